// ABOUTME: Database-backed admin commands: users, tokens, expert profiles and conversations
// ABOUTME: Profile edits invalidate the eligible-expert cache when it is shared through Redis

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func (a *admin) cmdUser(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.cmdUserList(ctx)
	}

	switch args[0] {
	case "list":
		return a.cmdUserList(ctx)
	case "add":
		if len(args) != 2 {
			return fmt.Errorf("usage: helpdesk-admin user add <username>")
		}
		return a.cmdUserAdd(ctx, args[1])
	default:
		return fmt.Errorf("unknown user subcommand: %s", args[0])
	}
}

func (a *admin) cmdUserAdd(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	user := &store.User{Username: username}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("user %s already exists", username)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	token, err := a.verifier.Generate(user.ID, defaultTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Created user %s (id %d)\n", user.Username, user.ID)
	fmt.Fprintf(a.out, "\nToken (expires %s):\n%s\n",
		time.Now().Add(defaultTokenTTL).UTC().Format("Jan 02, 2006"), token)
	return nil
}

func (a *admin) cmdUserList(ctx context.Context) error {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if len(users) == 0 {
		fmt.Fprintln(a.out, "No users found")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tBIO\tLINKS\tCREATED")
	for _, u := range users {
		bio, links := "-", 0
		if p, err := a.store.GetExpertProfile(ctx, u.ID); err == nil {
			if p.Bio != "" {
				bio = truncate(p.Bio, 40)
			}
			links = len(p.KnowledgeBaseLinks)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			u.ID, u.Username, bio, links, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// cmdToken prints only the token so it can be captured by scripts.
func (a *admin) cmdToken(ctx context.Context, args []string) error {
	var username string
	ttl := defaultTokenTTL

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			i++
			d, err := parseTTL(args[i])
			if err != nil {
				return err
			}
			ttl = d
		case strings.HasPrefix(arg, "--ttl="):
			d, err := parseTTL(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return err
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case username == "":
			username = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if username == "" {
		return fmt.Errorf("usage: helpdesk-admin token <username> [--ttl 720h]")
	}

	user, err := a.lookupUser(ctx, username)
	if err != nil {
		return err
	}

	token, err := a.verifier.Generate(user.ID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func parseTTL(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --ttl %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--ttl must be positive")
	}
	return d, nil
}

func (a *admin) cmdProfile(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: helpdesk-admin profile <show|set> <username> [--bio B] [--link U]...")
	}

	switch args[0] {
	case "show":
		if len(args) != 2 {
			return fmt.Errorf("usage: helpdesk-admin profile show <username>")
		}
		return a.cmdProfileShow(ctx, args[1])
	case "set":
		return a.cmdProfileSet(ctx, args[1], args[2:])
	default:
		return fmt.Errorf("unknown profile subcommand: %s", args[0])
	}
}

func (a *admin) cmdProfileShow(ctx context.Context, username string) error {
	user, err := a.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	p, err := a.store.GetExpertProfile(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(a.out, "%s (id %d)\n", user.Username, user.ID)
	if p.Bio == "" {
		gray.Fprintln(a.out, "  Bio:     (empty, not eligible for routing)")
	} else {
		fmt.Fprintf(a.out, "  Bio:     %s\n", p.Bio)
	}
	for _, link := range p.KnowledgeBaseLinks {
		fmt.Fprintf(a.out, "  Link:    %s\n", link)
	}
	fmt.Fprintf(a.out, "  Updated: %s\n", p.UpdatedAt.Format(time.RFC3339))
	return nil
}

// cmdProfileSet replaces the bio and link list. --link may repeat.
func (a *admin) cmdProfileSet(ctx context.Context, username string, args []string) error {
	var bio string
	links := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--bio" || arg == "--link":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			i++
			if arg == "--bio" {
				bio = args[i]
			} else {
				links = append(links, args[i])
			}
		case strings.HasPrefix(arg, "--bio="):
			bio = strings.TrimPrefix(arg, "--bio=")
		case strings.HasPrefix(arg, "--link="):
			links = append(links, strings.TrimPrefix(arg, "--link="))
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	user, err := a.lookupUser(ctx, username)
	if err != nil {
		return err
	}

	err = a.store.UpdateExpertProfile(ctx, &store.ExpertProfile{
		UserID:             user.ID,
		Bio:                strings.TrimSpace(bio),
		KnowledgeBaseLinks: links,
		UpdatedAt:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	cache.InvalidateAll(ctx, a.cache, a.logger, cache.EligibleExpertsKey)

	color.New(color.FgGreen).Fprintf(a.out, "✓ Updated profile for %s (%d links)\n", user.Username, len(links))
	return nil
}

// cmdConversation prints a conversation's state and its claim history.
func (a *admin) cmdConversation(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: helpdesk-admin conversation <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid conversation id: %s", args[0])
	}

	conv, err := a.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("conversation %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	history, err := a.store.ListAssignmentsForConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("listing assignments: %w", err)
	}

	color.New(color.FgCyan).Fprintf(a.out, "#%d %s\n", conv.ID, conv.Title)
	fmt.Fprintf(a.out, "  Status:    %s\n", conv.Status)
	fmt.Fprintf(a.out, "  Initiator: %s\n", a.username(ctx, conv.InitiatorID))
	if conv.AssignedExpertID != nil {
		fmt.Fprintf(a.out, "  Expert:    %s\n", a.username(ctx, *conv.AssignedExpertID))
	}
	fmt.Fprintln(a.out)

	if len(history) == 0 {
		fmt.Fprintln(a.out, "No assignments yet")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPERT\tSTATUS\tASSIGNED\tRESOLVED")
	for _, h := range history {
		resolved := "-"
		if h.ResolvedAt != nil {
			resolved = h.ResolvedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.username(ctx, h.ExpertID), h.Status, h.AssignedAt.Format("2006-01-02 15:04"), resolved)
	}
	return w.Flush()
}

// username falls back to the numeric id for users that cannot be loaded.
func (a *admin) username(ctx context.Context, id int64) string {
	if u, err := a.store.GetUser(ctx, id); err == nil {
		return u.Username
	}
	return fmt.Sprintf("user %d", id)
}

func (a *admin) lookupUser(ctx context.Context, username string) (*store.User, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %s not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return user, nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
