package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/app"
	"github.com/matheus3301/bunnychat/internal/auth"
	"github.com/matheus3301/bunnychat/internal/config"
	"github.com/matheus3301/bunnychat/internal/home"
	"github.com/matheus3301/bunnychat/internal/session"
)

// deps are the components a command can use.
type deps struct {
	fx.In

	Session     app.Params
	Config      *config.Config
	Logger      *zap.Logger
	Client      *api.Client
	Auth        *auth.Service
	Home        *home.Model
	Transcripts *app.Transcripts
}

type globals struct {
	session string
	json    bool
	baseURL string
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	urlFlag := flag.String("url", "", "chat server base URL (overrides config and "+config.EnvBaseURL+")")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	g := globals{session: sessionName, json: *jsonFlag, baseURL: *urlFlag}
	if err := run(g, args); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// usageError carries the usage line of a misused command.
type usageError string

func (e usageError) Error() string { return "usage: bunnychat " + string(e) }

func run(g globals, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "sessions" {
		if len(args) < 2 || args[1] != "list" {
			return usageError("sessions list")
		}
		return cmdSessionsList(g)
	}

	handler, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}

	var d deps
	fxApp := fx.New(
		app.Module(app.Params{SessionName: g.session, BaseURL: g.baseURL}),
		fx.Invoke(func(in deps) { d = in }),
	)
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = fxApp.Stop(context.Background()) }()

	return handler(ctx, g, d, args[1:])
}

type command func(ctx context.Context, g globals, d deps, args []string) error

var commands = map[string]command{
	"status": cmdStatus,
	"signin": cmdSignIn,
	"signup": cmdSignUp,
	"logout": cmdLogout,
	"whoami": cmdWhoami,
	"home":   cmdHome,
	"chat":   cmdChat,
	"send":   cmdSend,
	"delete": cmdDelete,
	"avatar": cmdAvatar,
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bunnychat [--session <name>] [--json] [--url <base>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                                   Show session status")
	fmt.Fprintln(os.Stderr, "  signin <mobile>                          Sign in (password from stdin)")
	fmt.Fprintln(os.Stderr, "  signup --mobile m --first f --last l     Create an account (password from stdin)")
	fmt.Fprintln(os.Stderr, "  logout                                   Forget the signed-in user")
	fmt.Fprintln(os.Stderr, "  whoami                                   Show the signed-in user")
	fmt.Fprintln(os.Stderr, "  home [--filter q]                        List conversations")
	fmt.Fprintln(os.Stderr, "  chat [--watch] <other_id>                Show a conversation")
	fmt.Fprintln(os.Stderr, "  send [--reply-to id] <other_id> <text>   Send a message")
	fmt.Fprintln(os.Stderr, "  delete [--yes] <other_id> <message_id>   Delete a message")
	fmt.Fprintln(os.Stderr, "  avatar [-o file] <mobile>                Download an avatar image")
	fmt.Fprintln(os.Stderr, "  sessions list                            List local sessions")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// readSecret reads a line from stdin without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(os.Stdin)
}

// confirm asks a yes/no question on stderr and reads the answer from stdin.
func confirm(question string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	answer, err := readLine(os.Stdin)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
