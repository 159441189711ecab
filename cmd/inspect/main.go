package main

import (
	"chat-connect/auth"
	"chat-connect/domain/chat"
	"chat-connect/infrastructure/storage"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		color.Error.Println(err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	var dbPath string
	return &cli.Command{
		Name:  "inspect",
		Usage: "Read-only view of a connect Badger directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db",
				Usage:       "path to the Badger directory",
				Value:       "./data/connect",
				Sources:     cli.EnvVars("BADGER_FILEPATH"),
				Destination: &dbPath,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "conversations",
				Usage: "List conversations with their watermarks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of conversations"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withRepository(dbPath, func(repo *storage.BadgerRepository) error {
						convs, err := repo.ListConversations(ctx, int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						renderConversations(out, convs)
						return nil
					})
				},
			},
			{
				Name:      "messages",
				Usage:     "List the latest messages of a conversation",
				ArgsUsage: "<conversation-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of messages"},
					&cli.IntFlag{Name: "before", Usage: "only messages older than this sequence number"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("conversation id is required")
					}
					return withRepository(dbPath, func(repo *storage.BadgerRepository) error {
						conv, err := repo.GetConversation(ctx, chat.ConversationID(id))
						if err != nil {
							return err
						}
						msgs, err := repo.ListMessagesBefore(ctx, conv.ID, int64(cmd.Int("before")), int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						renderMessages(out, conv, msgs)
						return nil
					})
				},
			},
			{
				Name:  "token",
				Usage: "Mint a development token for a participant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "participant", Required: true},
					&cli.StringFlag{Name: "secret", Sources: cli.EnvVars("JWT_SECRET"), Required: true},
					&cli.StringFlag{Name: "issuer", Sources: cli.EnvVars("JWT_ISSUER")},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					token, err := auth.NewTokenResolver(cmd.String("secret"), cmd.String("issuer")).
						GenerateToken(chat.ParticipantID(cmd.String("participant")), nil, cmd.Duration("ttl"))
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, token)
					return err
				},
			},
		},
	}
}

func withRepository(path string, fn func(repo *storage.BadgerRepository) error) error {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()
	return fn(storage.NewBadgerRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderConversations(out io.Writer, convs []chat.Conversation) {
	table := newTable(out, []string{"ID", "Kind", "Title", "Participants", "Last Seq", "Unread", "Last Message"})
	for _, c := range convs {
		last := ""
		if c.LastMessage != nil {
			last = fmt.Sprintf("%s %s: %s", c.LastMessage.At.Format(time.DateTime), c.LastMessage.SenderID, c.LastMessage.Preview)
		}
		unread := lo.FilterMap(c.Participants, func(p chat.ParticipantID, _ int) (string, bool) {
			n := c.Unread[p]
			return fmt.Sprintf("%s=%d", p, n), n > 0
		})
		table.Append([]string{
			string(c.ID),
			string(c.Kind),
			c.Title,
			strings.Join(lo.Map(c.Participants, func(p chat.ParticipantID, _ int) string { return string(p) }), ","),
			strconv.FormatInt(c.LastSeq, 10),
			strings.Join(unread, " "),
			last,
		})
	}
	table.Render()
	_, _ = fmt.Fprintln(out, color.Gray.Sprintf("%d conversation(s)", len(convs)))
}

func renderMessages(out io.Writer, conv chat.Conversation, msgs []chat.Message) {
	_, _ = fmt.Fprintln(out, color.Bold.Sprintf("%s (%s)", conv.ID, conv.Kind))
	table := newTable(out, []string{"Seq", "At", "Sender", "Type", "Content", "Read By"})
	for _, m := range msgs {
		content := m.Content.Text
		if m.Content.Type == chat.ContentFile {
			content = fmt.Sprintf("%s <%s>", m.Content.OriginalName, m.Content.FileURL)
		}
		table.Append([]string{
			strconv.FormatInt(m.Seq, 10),
			m.CreatedAt.Format(time.DateTime),
			string(m.SenderID),
			string(m.Content.Type),
			content,
			strings.Join(lo.Map(conv.ReadBy(m), func(p chat.ParticipantID, _ int) string { return string(p) }), ","),
		})
	}
	table.Render()
}
