package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"

	webview "github.com/webview/webview_go"

	"geofollow/pkg/config"
)

var (
	configPath = flag.String("config", "configs/geofollow.yaml", "Path to the config file")
	serverBin  = flag.String("server", "./geofollow", "Server binary started when no server answers")
	debug      = flag.Bool("debug", false, "Enable webview developer tools")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Webview requires main thread
	runtime.LockOSThread()

	w := webview.New(*debug)
	defer w.Destroy()

	w.SetTitle(cfg.Viewer.Title)
	w.SetSize(cfg.Viewer.Width, cfg.Viewer.Height, webview.HintNone)

	logProxy := func(msg string) {
		w.Dispatch(func() {
			w.Eval("window.addLogLine(" + escapeJS(msg) + ")")
		})
	}
	appProxy := func(url string) {
		w.Dispatch(func() {
			w.Eval("window.enableApp(" + escapeJS(url) + ")")
		})
	}

	mgr := NewManager(logProxy, appProxy, cfg.Server.Address, *serverBin, *configPath)
	defer mgr.Stop()

	// The shell page is served locally so the embedded map frame is same-scheme.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer ln.Close()

	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(htmlContent))
		}))
	}()

	w.Navigate("http://" + ln.Addr().String())

	mgr.Start()

	w.Run()
}

func escapeJS(s string) string {
	b, _ := json.Marshal(s)
	// json.Marshal returns "string", surrounding quotes included.
	return string(b)
}
