package main

import (
	"embed"
	"log"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	app := NewApp()

	err := wails.Run(&options.App{
		Title:            "Butler",
		Width:            1024,
		Height:           768,
		MinWidth:         640,
		MinHeight:        480,
		BackgroundColour: &options.RGBA{R: 15, G: 15, B: 20, A: 255},
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.Startup,
		OnShutdown: app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  true,
				FullSizeContent:            true,
			},
			About: &mac.AboutInfo{
				Title:   "Butler",
				Message: "Sessão cloud do Butler",
			},
		},
	})

	if err != nil {
		log.Fatalf("[BUTLER] Fatal: %v", err)
	}
}
