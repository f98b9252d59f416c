package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/app"

	_ "github.com/kanaridev/KanariBot-Go/cogs/linkguard"
	_ "github.com/kanaridev/KanariBot-Go/cogs/pullguard"
	_ "github.com/kanaridev/KanariBot-Go/cogs/redirectmention"
	_ "github.com/kanaridev/KanariBot-Go/cogs/status"
)

var (
	versionName = ""
	commitSHA   = ""
	buildTime   = ""
)

func main() {
	configPath := flag.String("c", "config.ini", "config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buildInfo := bot.NewBuildInfo(versionName, commitSHA, buildTime)

	application, err := app.New(ctx, *configPath, buildInfo)
	if err != nil {
		panic(err)
	}

	if err := application.Start(ctx); err != nil {
		panic(err)
	}

	<-ctx.Done()
	_ = application.Shutdown(context.Background())
}
