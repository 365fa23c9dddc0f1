package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pollchat/internal/domain"
	"pollchat/internal/logging"
	"pollchat/internal/pollclient"
	"pollchat/internal/security"
)

func main() {
	app := &cli.App{
		Name:  "chatcli",
		Usage: "talk to a pollchat server from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8000", EnvVars: []string{"CHAT_SERVER"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"CHAT_TOKEN"}, Usage: "bearer token"},
			&cli.BoolFlag{Name: "debug", EnvVars: []string{"DEBUG"}},
		},
		Commands: []*cli.Command{
			sendCommand(),
			pollCommand(),
			historyCommand(),
			{
				Name:      "read",
				Usage:     "acknowledge a chat as read",
				ArgsUsage: "<friend|group> <chat-id>",
				Action: func(c *cli.Context) error {
					chatType, chatID, err := chatArgs(c)
					if err != nil {
						return err
					}
					return client(c).Acknowledge(c.Context, chatType, chatID)
				},
			},
			{
				Name:      "recall",
				Usage:     "recall one of your messages",
				ArgsUsage: "<friend|group> <message-id>",
				Action: func(c *cli.Context) error {
					chatType, id, err := chatArgs(c)
					if err != nil {
						return err
					}
					if err := client(c).Recall(c.Context, chatType, id); err != nil {
						return err
					}
					fmt.Println("message recalled")
					return nil
				},
			},
			sessionsCommand(),
			{
				Name:  "keygen",
				Usage: "print a new key pair for encrypted messages",
				Action: func(c *cli.Context) error {
					kp, err := security.GenerateKeyPair()
					if err != nil {
						return err
					}
					fmt.Printf("public:  %s\nprivate: %s\n", security.EncodeKey(kp.Public), security.EncodeKey(kp.Private))
					return nil
				},
			},
			{
				Name:  "token",
				Usage: "mint a development token for a user id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", EnvVars: []string{"JWT_SECRET"}, Required: true},
					&cli.Int64Flag{Name: "user", Required: true},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: func(c *cli.Context) error {
					tokens := security.NewTokenService(c.String("secret"), c.Duration("ttl"))
					tok, err := tokens.CreateForUser(c.Int64("user"))
					if err != nil {
						return err
					}
					fmt.Println(tok)
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a text or a file",
		ArgsUsage: "<friend|group> <chat-id> [text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "upload and send this file instead of text"},
			&cli.StringFlag{Name: "seal-for", Usage: "recipient public key; encrypts the text"},
		},
		Action: func(c *cli.Context) error {
			chatType, chatID, err := chatArgs(c)
			if err != nil {
				return err
			}
			cl := client(c)
			req := pollclient.SendRequest{Content: c.Args().Get(2)}

			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				ref, err := cl.Upload(c.Context, filepath.Base(path), f)
				if err != nil {
					return err
				}
				req.Content = ""
				req.File = ref
			} else if key := c.String("seal-for"); key != "" {
				pub, err := security.ParseKey(key)
				if err != nil {
					return err
				}
				sealed, err := security.Seal(req.Content, pub)
				if err != nil {
					return err
				}
				req.Content = sealed
				req.IsEncrypted = true
			}

			res, err := cl.Send(c.Context, chatType, chatID, req)
			if err != nil {
				return err
			}
			fmt.Printf("sent #%d\n", res.MessageID)
			return nil
		},
	}
}

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:      "poll",
		Usage:     "print new messages as they arrive",
		ArgsUsage: "<friend|group> <chat-id>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "since", Usage: "resume after this message id"},
			&cli.DurationFlag{Name: "every", Usage: "poll interval, defaults to the server's"},
			&cli.BoolFlag{Name: "once", Usage: "drain and exit instead of following"},
			&cli.StringFlag{Name: "public-key", EnvVars: []string{"CHAT_PUBLIC_KEY"}},
			&cli.StringFlag{Name: "private-key", EnvVars: []string{"CHAT_PRIVATE_KEY"}},
		},
		Action: func(c *cli.Context) error {
			chatType, chatID, err := chatArgs(c)
			if err != nil {
				return err
			}
			opts := []pollclient.PollerOption{
				pollclient.StartAt(c.Int64("since")),
				pollclient.WithLogger(logger(c)),
			}
			if d := c.Duration("every"); d > 0 {
				opts = append(opts, pollclient.Every(d))
			}
			if c.String("private-key") != "" {
				kp, err := security.ParseKeyPair(c.String("public-key"), c.String("private-key"))
				if err != nil {
					return err
				}
				opts = append(opts, pollclient.WithOpener(kp))
			}

			p := pollclient.NewPoller(client(c), chatType, chatID, opts...)
			if c.Bool("once") {
				msgs, err := p.PollOnce(c.Context)
				printMessages(msgs)
				return err
			}
			err = p.Run(c.Context, printMessages)
			if errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "stopped at watermark %d\n", p.Watermark())
				return nil
			}
			return err
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show a page of older messages",
		ArgsUsage: "<friend|group> <chat-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
		},
		Action: func(c *cli.Context) error {
			chatType, chatID, err := chatArgs(c)
			if err != nil {
				return err
			}
			msgs, err := client(c).History(c.Context, chatType, chatID, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		},
	}
}

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "list conversations with unread counts",
		Action: func(c *cli.Context) error {
			cl := client(c)
			res, err := cl.Sessions(c.Context)
			if err != nil {
				return err
			}
			unread, err := cl.Unread(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("%d unread\n", unread.Count)
			for _, s := range res.Sessions {
				fmt.Printf("friend %-4d %-20s unread=%-3d %s  %s\n",
					s.PeerID, s.DisplayName, s.UnreadCount, humanize.Time(s.UpdatedAt), previewText(s.Preview))
			}
			for _, g := range res.Groups {
				when := "never"
				if g.UpdatedAt != nil {
					when = humanize.Time(*g.UpdatedAt)
				}
				fmt.Printf("group  %-4d %-20s unread=%-3d %s  %s\n",
					g.GroupID, g.Name, g.UnreadCount, when, previewText(g.Preview))
			}
			return nil
		},
	}
}

func client(c *cli.Context) *pollclient.Client {
	return pollclient.New(c.String("server"), c.String("token"))
}

func logger(c *cli.Context) zerolog.Logger {
	if c.Bool("debug") {
		return logging.New("debug", true)
	}
	return logging.New("warn", true)
}

func chatArgs(c *cli.Context) (domain.ChatType, int64, error) {
	if c.NArg() < 2 {
		return "", 0, fmt.Errorf("usage: %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	chatType, err := domain.ParseChatType(c.Args().Get(0))
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid id %q", c.Args().Get(1))
	}
	return chatType, id, nil
}

func printMessages(msgs []*domain.Message) {
	for _, m := range msgs {
		fmt.Printf("#%d %s from %d: %s\n", m.ID, m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, body(m))
	}
}

func body(m *domain.Message) string {
	if m.Type == domain.MessageFile && m.FileName != nil {
		size := ""
		if m.FileSize != nil && *m.FileSize >= 0 {
			size = " (" + humanize.Bytes(uint64(*m.FileSize)) + ")"
		}
		return "[file] " + *m.FileName + size
	}
	if m.Content == nil {
		return ""
	}
	if m.IsEncrypted {
		return "[encrypted] " + *m.Content
	}
	return *m.Content
}

func previewText(p *domain.Preview) string {
	switch {
	case p == nil:
		return "-"
	case p.Type == domain.MessageFile && p.FileName != nil:
		return "[file] " + *p.FileName
	case p.Encrypted:
		return "[encrypted]"
	case p.Content != nil:
		return *p.Content
	}
	return ""
}
