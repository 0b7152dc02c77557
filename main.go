package main

import (
	"github.com/veylan/mimic/cmd"
)

func main() {
	cmd.Execute()
}
