// Package main provides the control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/cratebox/internal/api/connect"
)

var (
	app    = kingpin.New("cratebox-ctl", "cratebox preview player control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()

	stateCmd = app.Command("state", "Show the player state").Alias("status")

	playCmd   = app.Command("play", "Resume, or play the queue entry at index")
	playIndex = playCmd.Arg("index", "Queue index").String()

	pauseCmd  = app.Command("pause", "Pause playback")
	toggleCmd = app.Command("toggle", "Toggle play/pause")
	nextCmd   = app.Command("next", "Next track")
	prevCmd   = app.Command("prev", "Previous track (restarts after 3s)")

	seekCmd = app.Command("seek", "Seek to position")
	seekSec = seekCmd.Arg("seconds", "Position in seconds").Required().Float64()

	volumeCmd   = app.Command("volume", "Set volume")
	volumeValue = volumeCmd.Arg("value", "Volume 0..1").Required().Float64()

	muteCmd   = app.Command("mute", "Mute")
	unmuteCmd = app.Command("unmute", "Unmute")

	shuffleCmd  = app.Command("shuffle", "Set shuffle")
	shuffleMode = shuffleCmd.Arg("mode", "on or off").Required().Enum("on", "off")

	repeatCmd = app.Command("repeat", "Cycle repeat mode (off, one, all)")

	removeCmd   = app.Command("remove", "Remove a queue entry")
	removeIndex = removeCmd.Arg("index", "Queue index").Required().Int()

	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Search query").Required().String()
	searchLimit = searchCmd.Flag("limit", "Maximum results").Default("20").Int()

	previewCmd   = app.Command("preview", "Preview the last search results from index")
	previewIndex = previewCmd.Arg("index", "Result index").Required().Int()

	buyCmd   = app.Command("buy", "Show the buy link of a queue entry")
	buyIndex = buyCmd.Arg("index", "Queue index").Required().Int()

	crateCmd         = app.Command("crate", "Manage the crate")
	crateListCmd     = crateCmd.Command("list", "List crate rows").Default()
	crateAddCmd      = crateCmd.Command("add", "Add a queue entry to the crate")
	crateAddIndex    = crateAddCmd.Arg("index", "Queue index").Required().Int()
	crateRemoveCmd   = crateCmd.Command("remove", "Remove a crate row")
	crateRemoveIndex = crateRemoveCmd.Arg("index", "Crate row index").Required().Int()
	crateClearCmd    = crateCmd.Command("clear", "Remove every crate row")
	crateExportCmd   = crateCmd.Command("export", "Print the crate as CSV")

	subscribeCmd = app.Command("subscribe", "Stream state notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{http: http.DefaultClient, base: *server, token: *token}
	ctx := context.Background()

	// Execute command
	switch command {
	case stateCmd.FullCommand():
		printState(c.callEmpty(ctx, apiconnect.GetStateProcedure))
	case playCmd.FullCommand():
		args := map[string]any{"action": "play"}
		if *playIndex != "" {
			idx, err := strconv.Atoi(*playIndex)
			if err != nil {
				fail(err)
			}
			args["index"] = idx
		}
		printState(c.control(ctx, args))
	case pauseCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "pause"}))
	case toggleCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "toggle"}))
	case nextCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "next"}))
	case prevCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "prev"}))
	case seekCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "seek", "value": *seekSec}))
	case volumeCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "volume", "value": *volumeValue}))
	case muteCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "mute"}))
	case unmuteCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "unmute"}))
	case shuffleCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "shuffle", "on": *shuffleMode == "on"}))
	case repeatCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "repeat"}))
	case removeCmd.FullCommand():
		printState(c.control(ctx, map[string]any{"action": "remove", "index": *removeIndex}))
	case searchCmd.FullCommand():
		printSearch(c.call(ctx, apiconnect.SearchProcedure, map[string]any{"query": *searchQuery, "limit": *searchLimit}, false))
	case previewCmd.FullCommand():
		printState(c.call(ctx, apiconnect.PreviewProcedure, map[string]any{"index": *previewIndex}, true))
	case buyCmd.FullCommand():
		msg := c.call(ctx, apiconnect.BuyLinkProcedure, map[string]any{"index": *buyIndex}, false)
		fields := msg.GetFields()
		fmt.Printf("%s: %s\n", fields["source"].GetStringValue(), fields["url"].GetStringValue())
	case crateListCmd.FullCommand():
		printRows(c.callEmpty(ctx, apiconnect.ListCrateProcedure))
	case crateAddCmd.FullCommand():
		msg := c.call(ctx, apiconnect.AddToCrateProcedure, map[string]any{"index": *crateAddIndex}, true)
		fmt.Printf("Added: %s - %s\n", msg.GetFields()["artist"].GetStringValue(), msg.GetFields()["title"].GetStringValue())
	case crateRemoveCmd.FullCommand():
		printRows(c.call(ctx, apiconnect.RemoveFromCrateProcedure, map[string]any{"index": *crateRemoveIndex}, true))
	case crateClearCmd.FullCommand():
		printRows(c.callEmptyGuarded(ctx, apiconnect.ClearCrateProcedure))
	case crateExportCmd.FullCommand():
		fmt.Println(c.callEmpty(ctx, apiconnect.ExportCrateProcedure).GetFields()["csv"].GetStringValue())
	case subscribeCmd.FullCommand():
		c.subscribe(ctx)
	}
}

type client struct {
	http  *http.Client
	base  string
	token string
}

func (c *client) control(ctx context.Context, args map[string]any) *structpb.Struct {
	return c.call(ctx, apiconnect.ControlProcedure, args, true)
}

func (c *client) call(ctx context.Context, procedure string, args map[string]any, guarded bool) *structpb.Struct {
	msg, err := structpb.NewStruct(args)
	if err != nil {
		fail(err)
	}

	req := connect.NewRequest(msg)
	c.authorize(req.Header(), guarded)

	resp, err := connect.NewClient[structpb.Struct, structpb.Struct](c.http, c.base+procedure).CallUnary(ctx, req)
	if err != nil {
		fail(err)
	}
	return resp.Msg
}

func (c *client) callEmpty(ctx context.Context, procedure string) *structpb.Struct {
	return c.empty(ctx, procedure, false)
}

func (c *client) callEmptyGuarded(ctx context.Context, procedure string) *structpb.Struct {
	return c.empty(ctx, procedure, true)
}

func (c *client) empty(ctx context.Context, procedure string, guarded bool) *structpb.Struct {
	req := connect.NewRequest(&emptypb.Empty{})
	c.authorize(req.Header(), guarded)

	resp, err := connect.NewClient[emptypb.Empty, structpb.Struct](c.http, c.base+procedure).CallUnary(ctx, req)
	if err != nil {
		fail(err)
	}
	return resp.Msg
}

func (c *client) authorize(h http.Header, guarded bool) {
	if !guarded {
		return
	}
	if c.token == "" {
		fmt.Println("Error: control token is required (use --token or CONTROL_TOKEN env)")
		os.Exit(1)
	}
	h.Set(apiconnect.ControlTokenHeader, c.token)
}

func (c *client) subscribe(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := connect.NewClient[emptypb.Empty, structpb.Struct](c.http, c.base+apiconnect.SubscribeProcedure).
		CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	// Receive notifications
	for stream.Receive() {
		printNotification(stream.Msg())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}
