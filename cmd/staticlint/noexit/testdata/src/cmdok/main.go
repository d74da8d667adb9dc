package main

import (
	"errors"
	"fmt"
)

func run() error {
	return errors.New("stopped")
}

func main() {
	if err := run(); err != nil {
		panic(fmt.Sprintf("agent: %v", err))
	}
}
