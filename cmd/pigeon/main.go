// Command pigeon is the terminal messaging client: it logs into a gateway,
// keeps a synchronized conversation view and sends messages from a small
// line-based prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pigeon-im/pigeon/internal/api"
	"github.com/pigeon-im/pigeon/internal/engine"
	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/realtime"
)

func main() {
	var gateway, email, password, name, logLevel string

	gatewayFlag := &cli.StringFlag{
		Name:        "gateway",
		Usage:       "Gateway base URL",
		Value:       "http://localhost:8080",
		EnvVars:     []string{"PIGEON_GATEWAY"},
		Destination: &gateway,
	}
	emailFlag := &cli.StringFlag{
		Name:        "email",
		Usage:       "Account email",
		Required:    true,
		EnvVars:     []string{"PIGEON_EMAIL"},
		Destination: &email,
	}
	passwordFlag := &cli.StringFlag{
		Name:        "password",
		Usage:       "Account password",
		Required:    true,
		EnvVars:     []string{"PIGEON_PASSWORD"},
		Destination: &password,
	}

	app := &cli.App{
		Name:  "pigeon",
		Usage: "direct-messaging client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "warn",
				Destination: &logLevel,
			},
		},
		Before: func(*cli.Context) error {
			log.SetLevel(logLevel)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "signup",
				Usage: "register a new account",
				Flags: []cli.Flag{
					gatewayFlag, emailFlag, passwordFlag,
					&cli.StringFlag{
						Name:        "name",
						Usage:       "Display name",
						Required:    true,
						Destination: &name,
					},
				},
				Action: func(c *cli.Context) error {
					client := api.NewClient(gateway)
					profile, err := client.Signup(c.Context, name, email, password)
					if err != nil {
						return err
					}
					fmt.Printf("registered %s (%s)\n", profile.Name, profile.ID)
					return nil
				},
			},
			{
				Name:  "chat",
				Usage: "log in and chat interactively",
				Flags: []cli.Flag{gatewayFlag, emailFlag, passwordFlag},
				Action: func(c *cli.Context) error {
					return chat(c.Context, gateway, email, password)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pigeon:", err)
		os.Exit(1)
	}
}

func chat(ctx context.Context, gateway, email, password string) error {
	client := api.NewClient(gateway)
	session, err := client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", session.Profile.Name)

	rt, err := realtime.Dial(ctx, client.WebsocketURL())
	if err != nil {
		return err
	}
	defer rt.Close()

	eng := engine.New(session.Profile, client, rt, client)
	defer eng.Close()

	printer := &printer{eng: eng}
	eng.SetOnChange(printer.render)

	if err := eng.Start(ctx); err != nil {
		return err
	}

	fmt.Println("commands: /friends /online /find <email> /open <peer-id> /attach <file> [caption] /block <peer-id> /archive <peer-id> /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := printer.handle(ctx, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

// printer renders engine state changes and executes prompt commands. The
// engine invokes render from its own goroutines, so printed progress is
// guarded by a lock.
type printer struct {
	eng *engine.Engine

	mu      sync.Mutex
	printed int
	peer    string
}

// render prints timeline entries that appeared since the last change
// notification. Switching peers restarts the count.
func (p *printer) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if peer := p.eng.SelectedPeer(); peer != p.peer {
		p.peer = peer
		p.printed = 0
	}

	entries := p.eng.Messages()
	for _, e := range entries[min(p.printed, len(entries)):] {
		who := "them"
		if e.From == engine.FromMe {
			who = "me"
		}
		body := e.Body.Text
		if e.Body.Attachment != nil {
			url, _ := p.eng.AttachmentURL(e.Body.Attachment.Path)
			body = fmt.Sprintf("[%s] %s %s", e.Body.Attachment.Name, e.Body.Text, url)
		}
		fmt.Printf("\r%s %s: %s\n> ", e.SentAt.Local().Format("15:04"), who, body)
	}
	p.printed = len(entries)
}

func (p *printer) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return p.eng.Send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/friends":
		for _, conv := range p.eng.Friends() {
			p.printConversation(conv)
		}
		return nil
	case "/online":
		fmt.Println(strings.Join(p.eng.OnlineIDs(), " "))
		return nil
	case "/find":
		return p.eng.Search(ctx, arg)
	case "/open":
		return p.eng.SelectPeer(ctx, arg)
	case "/attach":
		file, caption, _ := strings.Cut(arg, " ")
		return p.attach(ctx, file, strings.TrimSpace(caption))
	case "/block":
		return p.eng.Block(ctx, arg)
	case "/unblock":
		return p.eng.Unblock(ctx, arg)
	case "/archive":
		return p.eng.Archive(ctx, arg)
	case "/unarchive":
		return p.eng.Unarchive(ctx, arg)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (p *printer) printConversation(conv engine.Conversation) {
	marker := " "
	if p.eng.SelectedPeer() == conv.PeerID {
		marker = "*"
	}
	when := "never"
	if conv.LastMessageAt != nil {
		when = conv.LastMessageAt.Local().Format("Jan 2 15:04")
	}
	suffix := ""
	if conv.Archived {
		suffix = " (archived)"
	}
	fmt.Printf("%s %-24s %s  %s  %s%s\n", marker, conv.Profile.Name, conv.PeerID, when, conv.Preview, suffix)
}

func (p *printer) attach(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	up := engine.Upload{
		Name: filepath.Base(path),
		Mime: mimeType,
		Size: info.Size(),
		Data: f,
	}

	start := time.Now()
	if err := p.eng.SendAttachment(ctx, up, caption); err != nil {
		return err
	}
	fmt.Printf("uploaded %s in %s\n", up.Name, time.Since(start).Round(time.Millisecond))
	return nil
}
