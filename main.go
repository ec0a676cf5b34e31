package main

import (
	"os"

	"github.com/zheng/argus/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
