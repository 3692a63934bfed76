// Command edgecleanup is the Lambda that removes a deleted person from the
// friend sets of their former friends. It consumes the person table's
// DynamoDB stream and reads the same SOCIALGRAPH_* variables as the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/socialgraph/internal/cli"
	"github.com/jacentio/socialgraph/internal/config"
	"github.com/jacentio/socialgraph/people"
	"github.com/jacentio/socialgraph/stream"
)

func main() {
	cfg, err := config.Load(os.Getenv("SOCIALGRAPH_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger(os.Stdout)

	s, err := cli.NewDynamoStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}

	h := stream.NewHandler(people.New(s, logger), logger)
	lambda.Start(h.HandleRemove)
}
