package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("starting")
	os.Exit(1) // want "прямой вызов os.Exit в функции main запрещен"
}

func helper() {
	os.Exit(2)
}
