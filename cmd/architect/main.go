package main

import (
	"os"

	"github.com/stokaro/architect/cmd/architectcmd"
)

func main() {
	architectcmd.Execute(os.Args[1:]...)
}
