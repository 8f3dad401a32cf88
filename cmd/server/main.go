package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/p-dazzeo/realm/internal/apperr"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprint(os.Stderr, apperr.Format(err, false))
		}
		os.Exit(1)
	}
}
