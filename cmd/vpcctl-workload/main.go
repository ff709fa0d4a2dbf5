// Command vpcctl-workload is the external effector invoked by "deploy"
// (spec §1, §4.7): a trivial HTTP server that runs inside a subnet's
// namespace and serves a canned response, standing in for an actual
// nginx or python container image. Structurally this is the reference
// tree's sdn/vm/cmd/httpsrv adapted down to two fixed response kinds.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vpcctl/vpcctl/cmd/vpcctl-workload/config"
)

const (
	nginxBody = `<!DOCTYPE html>
<html>
<head>
<title>Welcome to nginx!</title>
<style>
    body {
        width: 35em;
        margin: 0 auto;
        font-family: Tahoma, Verdana, Arial, sans-serif;
    }
</style>
</head>
<body>
<h1>Welcome to nginx!</h1>
<p>If you see this page, the nginx web server is successfully installed and
working. Further configuration is required.</p>

<p>For online documentation and support please refer to
<a href="http://nginx.org/">nginx.org</a>.<br/>
Commercial support is available at
<a href="http://nginx.com/">nginx.com</a>.</p>

<p><em>Thank you for using nginx.</em></p>
</body>
</html>
`
	pythonBody = `<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Directory listing for /</title>
</head>
<body>
<h1>Directory listing for /</h1>
<hr>
<ul>
</ul>
<hr>
</body>
</html>
`
)

func cannedResponse(kind string) (body, contentType string, err error) {
	switch kind {
	case "nginx":
		return nginxBody, "text/html", nil
	case "python":
		return pythonBody, "text/html", nil
	default:
		return "", "", fmt.Errorf("unknown workload kind %q", kind)
	}
}

func handler(body, contentType string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("received request: %s %s", r.Method, r.URL.Path)
		w.Header().Add("Content-Type", contentType)
		if _, err := w.Write([]byte(body)); err != nil {
			log.Errorf("failed to write response body: %v", err)
		}
	}
}

func main() {
	configFile := flag.String("c", "/etc/vpcctl-workload.conf", "workload config file")
	flag.Parse()

	configBytes, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatalf("failed to read config file %s: %v", *configFile, err)
	}
	var cfg config.WorkloadConfig
	if err := json.Unmarshal(configBytes, &cfg); err != nil {
		log.Fatalf("failed to unmarshal workload config: %v", err)
	}

	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("failed to open log file %s: %v", cfg.LogFile, err)
		}
		log.SetOutput(logFile)
	}

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			log.Fatalf("failed to write pid file %s: %v", cfg.PidFile, err)
		}
		defer os.Remove(cfg.PidFile)
	}

	body, contentType, err := cannedResponse(cfg.Kind)
	if err != nil {
		log.Fatalf("invalid workload config: %v", err)
	}
	http.HandleFunc("/", handler(body, contentType))

	addr := net.JoinHostPort(cfg.ListenIP, fmt.Sprintf("%d", cfg.Port))
	go func() {
		log.Infof("vpcctl-workload (%s) listening on %s", cfg.Kind, addr)
		log.Fatalln(http.ListenAndServe(addr, nil))
	}()

	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-cancelChan
	log.Infof("caught signal %v, exiting", sig)
}
