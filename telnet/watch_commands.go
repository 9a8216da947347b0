package telnet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"diagconsole/param"
	"diagconsole/watch"
)

// handleWatchCommand routes the session-scoped live watch commands. Returns
// handled=false for everything else so the shared command table gets a shot.
func (s *Server) handleWatchCommand(client *Client, line string) (resp string, handled bool) {
	name := line
	attr := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name, attr = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch strings.ToLower(name) {
	case "watch_start":
		if attr != "" {
			return "ERR, Unknown command!", true
		}
		return s.watchStart(client), true
	case "watch_stop":
		if attr != "" {
			return "ERR, Unknown command!", true
		}
		client.streamer.Stop()
		return "OK, Live watch stopped", true
	case "watch_channel":
		if attr == "" {
			return "ERR, Unknown command!", true
		}
		return s.watchChannel(client, attr), true
	case "watch_rate":
		if attr == "" {
			return "ERR, Unknown command!", true
		}
		return s.watchRate(client, attr), true
	case "watch_info":
		if attr != "" {
			return "ERR, Unknown command!", true
		}
		return watchInfo(client), true
	}
	return "", false
}

func (s *Server) watchStart(client *Client) string {
	switch err := client.streamer.Start(); {
	case err == nil:
		return "OK, Live watch started"
	case errors.Is(err, watch.ErrActive):
		return "WAR, Live watch is already running..."
	case errors.Is(err, watch.ErrNoChannels):
		return "ERR, Invalid number of streaming parameters!"
	default:
		return "ERR, " + err.Error()
	}
}

func (s *Server) watchChannel(client *Client, attr string) string {
	tokens := strings.Split(attr, ",")
	params := make([]*param.Param, 0, len(tokens))
	for _, tok := range tokens {
		id, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 16)
		if err != nil {
			return "ERR, Wrong command!"
		}
		p, ok := s.registry.Resolve(uint16(id))
		if !ok {
			return fmt.Sprintf("ERR, Wrong parameter ID! ID: %d does not exist!", id)
		}
		params = append(params, p)
	}
	switch err := client.streamer.Configure(params); {
	case err == nil:
		return fmt.Sprintf("OK, %d watch channels configured", len(params))
	case errors.Is(err, watch.ErrActive):
		return "WAR, Live watch cfg cannot be changed while streaming!"
	default:
		return "ERR, " + err.Error()
	}
}

func (s *Server) watchRate(client *Client, attr string) string {
	ms, err := strconv.Atoi(strings.TrimSpace(attr))
	if err != nil {
		return "ERR, Wrong command!"
	}
	switch err := client.streamer.SetRate(time.Duration(ms) * time.Millisecond); {
	case err == nil:
		return fmt.Sprintf("OK, Period changed to %d ms", ms)
	case errors.Is(err, watch.ErrActive):
		return "WAR, Live watch cfg cannot be changed while streaming!"
	case errors.Is(err, watch.ErrBadRate):
		return "ERR, Period out of valid range!"
	default:
		return "ERR, " + err.Error()
	}
}

func watchInfo(client *Client) string {
	period, active, ids := client.streamer.Snapshot()
	activeInt := 0
	if active {
		activeInt = 1
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "OK,%d,%d,%d", period.Milliseconds(), activeInt, len(ids))
	for _, id := range ids {
		fmt.Fprintf(&sb, ",%d", id)
	}
	return sb.String()
}
