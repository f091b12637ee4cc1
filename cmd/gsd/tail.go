package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/ui"
)

// Wire shapes for the stream protocol, from the client's side.
type tailRequest struct {
	Type           string                 `json:"type"`
	Token          string                 `json:"token,omitempty"`
	ClientID       string                 `json:"clientId,omitempty"`
	Product        string                 `json:"product,omitempty"`
	Scopes         []model.Scope          `json:"scopes,omitempty"`
	Filters        *model.Filters         `json:"filters,omitempty"`
	Options        *model.DeliveryOptions `json:"options,omitempty"`
	CatchUpFrom    *string                `json:"catchUpFrom,omitempty"`
	SubscriptionID string                 `json:"subscriptionId,omitempty"`
}

type tailEvent struct {
	EventType     string          `json:"eventType"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	EntityVersion int64           `json:"entityVersion"`
	GlobalVersion string          `json:"globalVersion"`
	Actor         model.Actor     `json:"actor"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

type tailMessage struct {
	Type           string       `json:"type"`
	SubscriptionID string       `json:"subscriptionId,omitempty"`
	CurrentVersion string       `json:"currentVersion,omitempty"`
	Event          *tailEvent   `json:"event,omitempty"`
	Events         []*tailEvent `json:"events,omitempty"`
	IsCatchUp      bool         `json:"isCatchUp,omitempty"`
	Code           string       `json:"code,omitempty"`
	Message        string       `json:"message,omitempty"`
}

var tailCmd = &cobra.Command{
	Use:     "tail",
	Short:   "Stream live events from a GraphStream server to the terminal",
	GroupID: "tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		clientID, _ := cmd.Flags().GetString("client-id")
		scopeArgs, _ := cmd.Flags().GetStringArray("scope")
		eventTypes, _ := cmd.Flags().GetStringSlice("event-type")
		entityTypes, _ := cmd.Flags().GetStringSlice("entity-type")
		from, _ := cmd.Flags().GetString("from")
		withPayload, _ := cmd.Flags().GetBool("payload")
		rawJSON, _ := cmd.Flags().GetBool("json")

		if token == "" {
			token = os.Getenv("GRAPHSTREAM_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("no credential: pass --token or set GRAPHSTREAM_TOKEN")
		}
		if clientID == "" {
			host, _ := os.Hostname()
			clientID = fmt.Sprintf("gsd-tail-%s-%d", host, os.Getpid())
		}

		scopes, err := parseScopes(scopeArgs)
		if err != nil {
			return err
		}

		sub := tailRequest{
			Type:     "subscribe",
			Token:    token,
			ClientID: clientID,
			Product:  "gsd-tail",
			Scopes:   scopes,
			Options:  &model.DeliveryOptions{Mode: model.DeliveryRealtime, IncludePayload: withPayload},
		}
		if len(eventTypes) > 0 || len(entityTypes) > 0 {
			f := &model.Filters{EventTypes: eventTypes}
			for _, et := range entityTypes {
				f.EntityTypes = append(f.EntityTypes, model.EntityType(et))
			}
			sub.Filters = f
		}
		if from != "" {
			sub.CatchUpFrom = &from
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", url, err)
		}
		defer conn.Close()

		// Close the connection on interrupt so the read loop unblocks.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}

		for {
			var msg tailMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reading stream: %w", err)
			}

			switch msg.Type {
			case "subscribed":
				fmt.Fprintf(os.Stderr, "subscribed %s (current version %s)\n",
					msg.SubscriptionID, msg.CurrentVersion)
			case "event":
				printEvent(msg.Event, false, rawJSON)
			case "event_batch":
				for _, ev := range msg.Events {
					printEvent(ev, msg.IsCatchUp, rawJSON)
				}
			case "error":
				return fmt.Errorf("server error %s: %s", msg.Code, msg.Message)
			}
		}
	},
}

func init() {
	tailCmd.Flags().String("url", defaultStreamURL(), "websocket stream URL")
	tailCmd.Flags().String("token", "", "bearer token (default $GRAPHSTREAM_TOKEN)")
	tailCmd.Flags().String("client-id", "", "client identifier (default derived from hostname)")
	tailCmd.Flags().StringArray("scope", []string{"tenant"}, `subscription scope: "tenant", "<kind>:<id>", or "pattern:<glob>" (repeatable)`)
	tailCmd.Flags().StringSlice("event-type", nil, "only show these event types")
	tailCmd.Flags().StringSlice("entity-type", nil, "only show these entity types")
	tailCmd.Flags().String("from", "", "replay history after this global version before going live")
	tailCmd.Flags().Bool("payload", false, "request event payloads")
	tailCmd.Flags().Bool("json", false, "print raw JSON instead of formatted lines")
}

func defaultStreamURL() string {
	if s := os.Getenv("GRAPHSTREAM_STREAM_URL"); s != "" {
		return s
	}
	return "ws://localhost:8080/v1/stream"
}

// parseScopes turns "kind", "kind:id", and "pattern:glob" flags into scopes.
func parseScopes(args []string) ([]model.Scope, error) {
	scopes := make([]model.Scope, 0, len(args))
	for _, arg := range args {
		kind, rest, found := strings.Cut(arg, ":")
		s := model.Scope{Kind: model.ScopeKind(kind)}
		switch {
		case s.Kind == model.ScopePattern:
			s.Pattern = rest
		case found:
			s.ID = rest
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --scope %q: %w", arg, err)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

func printEvent(ev *tailEvent, catchUp bool, rawJSON bool) {
	if ev == nil {
		return
	}
	if rawJSON {
		data, _ := json.Marshal(ev)
		fmt.Println(string(data))
		return
	}

	destructive := strings.HasSuffix(ev.EventType, ".deleted") ||
		strings.HasSuffix(ev.EventType, ".rolled_back")
	marker := " "
	if catchUp {
		marker = "«" // replayed from history
	}

	line := fmt.Sprintf("%s %8s  %-24s %-32s v%d  %s",
		marker,
		ui.RenderMuted(ev.GlobalVersion),
		ui.RenderEventType(ev.EventType, destructive),
		ui.RenderEntity(ev.EntityType+"/"+ev.EntityID),
		ev.EntityVersion,
		ui.RenderMuted(ev.CreatedAt))
	if ev.Actor.ID != "" {
		line += "  " + ui.RenderMuted("by "+ev.Actor.ID)
	}
	fmt.Println(line)

	if len(ev.Payload) > 0 {
		fmt.Printf("    %s\n", string(ev.Payload))
	}
}
