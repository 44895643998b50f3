// Command usernode sends one request per stdin line to the coordinator.
//
// The first word of a line is the request name and the rest is its data, so
// "redy" or "helo distribution" can be typed directly. An Ok body is printed;
// an Ok "quit" ends the session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode"

	"node-rpc/client"
	"node-rpc/config"
	"node-rpc/message"
	"node-rpc/server"
	"node-rpc/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a noderpc YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[User] Failed to load config: %v\n", err)
		return 1
	}

	svc := service.New("User", service.WithConfig(cfg))
	defer svc.Sync()

	c := client.New(svc.Connect(cfg.Coordinator.Addr()))
	defer c.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		name, data, ok := parseCommand(scanner.Text())
		if !ok {
			continue
		}

		resp, err := c.Call(context.Background(), name, []byte(data))
		if err != nil {
			svc.Log(service.Critical, "Failed to reach remote service")
			continue
		}
		if resp.Status != message.Ok {
			svc.Log(service.Warning, fmt.Sprintf("%s answered %s %s", name, resp.Status, resp.Body))
			continue
		}
		if name == server.QuitRequest {
			return 0
		}
		fmt.Println(string(resp.Body))
	}
	return 0
}

// parseCommand splits line into its first word and the remainder with leading
// whitespace removed. Blank lines report false.
func parseCommand(line string) (name, data string, ok bool) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if line == "" {
		return "", "", false
	}
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, "", true
	}
	return line[:i], strings.TrimLeftFunc(line[i:], unicode.IsSpace), true
}
