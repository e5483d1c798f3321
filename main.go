package main

import (
	"runtime"

	"github.com/luma/tvgate/cmd"
)

func main() {
	// Each connection runs a read and a write goroutine; a busy server
	// juggles thousands of them, so give the scheduler room.
	runtime.GOMAXPROCS(128)

	cmd.Execute()
}
