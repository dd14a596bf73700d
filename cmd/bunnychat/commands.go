package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/auth"
	"github.com/matheus3301/bunnychat/internal/lock"
	"github.com/matheus3301/bunnychat/internal/poll"
	"github.com/matheus3301/bunnychat/internal/session"
	"github.com/matheus3301/bunnychat/internal/transcript"
)

func cmdStatus(ctx context.Context, g globals, d deps, _ []string) error {
	out := struct {
		Session string    `json:"session"`
		State   string    `json:"state"`
		BaseURL string    `json:"base_url"`
		User    *api.User `json:"user,omitempty"`
		Error   string    `json:"error,omitempty"`
	}{
		Session: g.session,
		State:   string(d.Auth.State()),
		BaseURL: d.Client.BaseURL(),
	}
	if u, err := d.Auth.CurrentUser(ctx); err == nil {
		out.User = &u
	} else if !errors.Is(err, auth.ErrSignedOut) {
		out.Error = err.Error() + " (run logout to reset)"
	}

	if g.json {
		outputJSON(out)
		return nil
	}
	fmt.Printf("Session: %s\n", out.Session)
	fmt.Printf("Status:  %s\n", out.State)
	fmt.Printf("Server:  %s\n", out.BaseURL)
	if out.User != nil {
		fmt.Printf("User:    %s (%s)\n", out.User.DisplayName(), out.User.Mobile)
	}
	if out.Error != "" {
		fmt.Printf("Error:   %s\n", out.Error)
	}
	return nil
}

func cmdSignIn(ctx context.Context, g globals, d deps, args []string) error {
	if len(args) != 1 {
		return usageError("signin <mobile>")
	}
	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}
	u, err := d.Auth.SignIn(ctx, args[0], password)
	if err != nil {
		return err
	}
	if g.json {
		outputJSON(u)
		return nil
	}
	fmt.Printf("Hi %s, you are signed in.\n", u.FirstName)
	return nil
}

func cmdSignUp(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	mobile := fs.String("mobile", "", "mobile number")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	avatar := fs.String("avatar", "", "PNG avatar image")
	if err := fs.Parse(args); err != nil {
		return usageError("signup --mobile m --first f --last l [--avatar file]")
	}

	req := api.SignUpRequest{Mobile: *mobile, FirstName: *first, LastName: *last}
	if *avatar != "" {
		f, err := os.Open(*avatar)
		if err != nil {
			return fmt.Errorf("open avatar: %w", err)
		}
		defer f.Close()
		req.Avatar = f
	}
	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}
	req.Password = password

	msg, err := d.Auth.SignUp(ctx, req)
	if err != nil {
		return err
	}
	if g.json {
		outputJSON(map[string]any{"success": true, "message": msg})
		return nil
	}
	fmt.Println(msg)
	return nil
}

func cmdLogout(ctx context.Context, g globals, d deps, _ []string) error {
	if err := d.Auth.Logout(ctx); err != nil {
		return err
	}
	if !g.json {
		fmt.Println("Signed out.")
	}
	return nil
}

func cmdWhoami(ctx context.Context, g globals, d deps, _ []string) error {
	u, err := d.Auth.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if g.json {
		outputJSON(u)
		return nil
	}
	fmt.Printf("%s (%s) id=%d\n", u.DisplayName(), u.Mobile, u.ID)
	return nil
}

func cmdHome(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("home", flag.ContinueOnError)
	filter := fs.String("filter", "", "show conversations whose name contains this text")
	if err := fs.Parse(args); err != nil {
		return usageError("home [--filter q]")
	}

	if err := d.Home.Refresh(ctx); err != nil {
		return err
	}
	d.Home.SetFilter(*filter)
	rows := d.Home.Visible()

	if g.json {
		outputJSON(rows)
		return nil
	}
	if len(rows) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, r := range rows {
		unread := " "
		if !r.Read() {
			unread = "*"
		}
		online := ""
		if r.Online() {
			online = " (online)"
		}
		fmt.Printf("%s %-6d %-3s %-24s %-20s %s\n",
			unread, r.OtherUserID, r.Initials(), r.OtherUserName+online, r.DateTime, snippet(r.Message, 40))
	}
	return nil
}

func cmdChat(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "keep polling for new messages")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return usageError("chat [--watch] <other_id>")
	}
	otherID, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}

	chat := openChat(ctx, d, otherID)
	if err := chat.Refresh(ctx); err != nil {
		return err
	}
	if !*watch {
		if g.json {
			outputJSON(chat.Snapshot())
			return nil
		}
		printTranscript(os.Stdout, chat, nil)
		return nil
	}

	l, err := lock.Acquire(session.Dir(g.session), lock.WatchName)
	if err != nil {
		return fmt.Errorf("another watcher is running: %w", err)
	}
	defer func() { _ = l.Release() }()

	seen := make(map[int64]bool)
	printTranscript(os.Stdout, chat, seen)

	p := poll.New(chat.Refresh, d.Config.Poll.Interval.Duration, d.Config.Poll.MaxBackoff.Duration, d.Logger.Named("poll"))
	p.Start(ctx)
	defer p.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-chat.Changed():
			printTranscript(os.Stdout, chat, seen)
		}
	}
}

func cmdSend(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	replyTo := fs.Int64("reply-to", 0, "id of the message to reply to")
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		return usageError("send [--reply-to id] <other_id> <text...>")
	}
	otherID, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}
	body := strings.Join(fs.Args()[1:], " ")

	chat := openChat(ctx, d, otherID)
	if *replyTo != 0 {
		if err := chat.Refresh(ctx); err != nil {
			return err
		}
		msg, ok := findMessage(chat, *replyTo)
		if !ok {
			return fmt.Errorf("message %d not found in conversation with %d", *replyTo, otherID)
		}
		if err := chat.BeginReply(msg); err != nil {
			return err
		}
	}
	if err := chat.Send(ctx, body); err != nil {
		return err
	}

	if g.json {
		outputJSON(chat.Snapshot())
		return nil
	}
	fmt.Println("Sent.")
	return nil
}

func cmdDelete(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return usageError("delete [--yes] <other_id> <message_id>")
	}
	otherID, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}
	msgID, err := parseID(fs.Arg(1))
	if err != nil {
		return err
	}

	chat := openChat(ctx, d, otherID)
	if err := chat.Refresh(ctx); err != nil {
		return err
	}
	msg, ok := findMessage(chat, msgID)
	if !ok {
		return fmt.Errorf("message %d not found in conversation with %d", msgID, otherID)
	}
	if !*yes {
		ok, err := confirm(fmt.Sprintf("Delete %q permanently?", snippet(msg.Body, 40)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	if err := chat.Delete(ctx, msgID); err != nil {
		return err
	}
	if g.json {
		outputJSON(map[string]any{"success": true, "id": msgID})
		return nil
	}
	fmt.Println("Deleted.")
	return nil
}

func cmdAvatar(ctx context.Context, g globals, d deps, args []string) error {
	fs := flag.NewFlagSet("avatar", flag.ContinueOnError)
	out := fs.String("o", "", "output file (default <mobile>.png)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return usageError("avatar [-o file] <mobile>")
	}
	mobile := fs.Arg(0)
	path := *out
	if path == "" {
		path = filepath.Base(mobile) + ".png"
	}

	img, err := d.Client.FetchAvatar(ctx, mobile)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, img, 0644); err != nil {
		return fmt.Errorf("write avatar: %w", err)
	}
	if g.json {
		outputJSON(map[string]any{"path": path, "bytes": len(img), "url": d.Client.AvatarURL(mobile)})
		return nil
	}
	fmt.Printf("Saved %s (%d bytes)\n", path, len(img))
	return nil
}

func cmdSessionsList(g globals) error {
	names, err := session.List()
	if err != nil {
		return err
	}

	type entry struct {
		Name       string `json:"name"`
		Path       string `json:"path"`
		WatcherPID int    `json:"watcher_pid,omitempty"`
	}
	entries := make([]entry, 0, len(names))
	for _, n := range names {
		e := entry{Name: n, Path: session.Dir(n)}
		if h, held := lock.Probe(session.Dir(n), lock.WatchName); held {
			e.WatcherPID = h.PID
		}
		entries = append(entries, e)
	}

	if g.json {
		outputJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, e := range entries {
		state := "idle"
		if e.WatcherPID != 0 {
			state = fmt.Sprintf("watching, pid %d", e.WatcherPID)
		}
		marker := " "
		if e.Name == g.session {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s (%s)\n", marker, e.Name, e.Path, state)
	}
	return nil
}

// openChat opens the conversation with otherID, naming the other party from
// the home list when it can be loaded.
func openChat(ctx context.Context, d deps, otherID int64) *transcript.Model {
	name := fmt.Sprintf("#%d", otherID)
	if err := d.Home.Refresh(ctx); err == nil {
		if s, ok := d.Home.Find(otherID); ok {
			name = s.OtherUserName
		}
	}
	return d.Transcripts.Open(otherID, name)
}

func findMessage(chat *transcript.Model, id int64) (api.Message, bool) {
	for _, m := range chat.Snapshot() {
		if m.ID == id {
			return m, true
		}
	}
	return api.Message{}, false
}

// printTranscript writes the messages of chat not yet in seen and marks
// them. A nil seen prints everything.
func printTranscript(w io.Writer, chat *transcript.Model, seen map[int64]bool) {
	for _, m := range chat.Snapshot() {
		if m.Pending {
			continue
		}
		if seen != nil {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		sender := chat.OtherName()
		mark := ""
		if m.FromSelf() {
			sender = "You"
			mark = " (sent)"
			if m.Status == api.StatusDelivered {
				mark = " (read)"
			}
		}
		fmt.Fprintf(w, "[%s] #%d %s: %s%s\n", m.DateTime, m.ID, sender, m.Body, mark)
		if m.ReplyTo != nil {
			fmt.Fprintf(w, "    > %s: %s\n", m.ReplyTo.SenderName, snippet(m.ReplyTo.Body, 60))
		}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
