package main

import (
	"github.com/revenueinsights/bookshelf-sub000/internal/cli"
)

func main() {
	cli.Execute()
}
