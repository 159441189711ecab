package e2e

import (
	"chat-connect/auth"
	"chat-connect/domain/chat"
	"chat-connect/infrastructure/grpc/client"
	"chat-connect/protocol"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const frameTimeout = 5 * time.Second

type BaseSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips without a server.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerAddr == "" {
		s.T().Skip("E2E_SERVER_ADDR is not set")
	}
}

// Step prints a colorized header for a scenario step.
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Participant returns a fresh participant id, so runs never collide.
func (s *BaseSuite) Participant(name string) chat.ParticipantID {
	return chat.ParticipantID(name + "-" + uuid.NewString()[:8])
}

func (s *BaseSuite) Token(id chat.ParticipantID) string {
	token, err := auth.NewTokenResolver(s.Config.JWTSecret, s.Config.JWTIssuer).GenerateToken(id, nil, time.Hour)
	s.Require().NoError(err)
	return token
}

// Client is one websocket connection of a participant.
type Client struct {
	s    *BaseSuite
	ID   chat.ParticipantID
	conn *websocket.Conn
}

func (s *BaseSuite) Dial(id chat.ParticipantID) *Client {
	u := url.URL{Scheme: "ws", Host: s.Config.ServerAddr, Path: "/ws"}
	header := http.Header{"Authorization": []string{"Bearer " + s.Token(id)}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	s.Require().NoError(err, "Failed to connect to "+u.String())
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Client{s: s, ID: id, conn: conn}
}

func (c *Client) Send(intent string, requestID string, payload any) {
	raw, err := json.Marshal(payload)
	c.s.Require().NoError(err)
	frame, err := json.Marshal(protocol.Envelope{Type: intent, RequestID: requestID, Payload: raw})
	c.s.Require().NoError(err)
	c.s.Require().NoError(c.conn.WriteMessage(websocket.TextMessage, frame))
}

// Expect reads frames until one of type arrives, then decodes its payload into out.
func (c *Client) Expect(eventType string, out any) protocol.Envelope {
	deadline := time.Now().Add(frameTimeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		c.s.Require().NoError(err, "waiting for %s on %s", eventType, c.ID)
		if c.s.Config.DebugJSON {
			c.s.T().Logf("%s <- %s", c.ID, data)
		}
		var env protocol.Envelope
		c.s.Require().NoError(json.Unmarshal(data, &env))
		if env.Type != eventType {
			continue
		}
		if out != nil {
			c.s.Require().NoError(json.Unmarshal(env.Payload, out))
		}
		return env
	}
}

// GrpcStream opens the Connect stream for id on E2E_GRPC_ADDR.
func (s *BaseSuite) GrpcStream(ctx context.Context, id chat.ParticipantID) *client.Stream {
	if s.Config.GrpcAddr == "" {
		s.T().Skip("E2E_GRPC_ADDR is not set")
	}
	cc, err := grpc.NewClient(s.Config.GrpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GrpcAddr)
	s.T().Cleanup(func() { _ = cc.Close() })
	stream, err := client.NewConnectClient(cc).Connect(ctx, s.Token(id))
	s.Require().NoError(err)
	return stream
}
