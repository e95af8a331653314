package main

import (
	"context"
	"fmt"

	"github.com/a-h/simserver"
)

type VersionCommand struct {
}

func (c VersionCommand) Run(ctx context.Context) (err error) {
	fmt.Println(simserver.Version)
	return nil
}
