package main

import (
	"github.com/AlexxIT/go-acp/internal/acp"
	"github.com/AlexxIT/go-acp/internal/app"
	"github.com/AlexxIT/go-acp/pkg/shell"
)

func main() {
	app.Init() // init config and logs
	acp.Init() // start the ACP test server

	shell.RunUntilSignal()
}
