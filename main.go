package main

import (
	"github.com/peterje/rec/cmd/remote"
)

func main() {
	remote.Execute()
}
