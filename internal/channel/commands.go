package channel

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andy6609/textserver/internal/session"
)

// maxShutdownDelay bounds @shutdown <minutes>.
const maxShutdownDelay = 7 * 24 * time.Hour

type command struct {
	usage     string
	privilege int
	run       func(u *User, args []string, rest string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"open":      {usage: "open <app>[/<qualifier>] [args...]", run: cmdOpen},
		"watch":     {usage: "watch <app>/<qualifier>", run: cmdWatch},
		"close":     {usage: "close [<channel>]", run: cmdClose},
		"switch":    {usage: "switch <channel>", run: cmdSwitch},
		"channels":  {usage: "channels", run: cmdChannels},
		"apps":      {usage: "apps", run: cmdApps},
		"create":    {usage: "create <app> [args...]", run: cmdCreate},
		"who":       {usage: "who", run: cmdWho},
		"broadcast": {usage: "broadcast <text>", run: cmdBroadcast},
		"tell":      {usage: "tell <user> <text>", run: cmdTell},
		"ping":      {usage: "ping", run: cmdPing},
		"quit":      {usage: "quit", run: cmdQuit},
		"shutdown":  {usage: "shutdown <minutes>|cancel|status", privilege: 1, run: cmdShutdown},
		"help":      {usage: "help", run: cmdHelp},
	}
}

// usageError carries the usage line of the command that was misused.
type usageError string

func (e usageError) Error() string { return "usage: " + string(session.Sentinel) + string(e) }

// command runs a server command; line has the sentinel stripped.
func (u *User) command(line string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	name = strings.ToLower(name)

	cmd, ok := commands[name]
	if !ok {
		u.conn.Output(session.Err("unknown command " + name))
		return nil
	}
	if u.conn.Privilege() < cmd.privilege {
		u.conn.Output(session.Err("permission denied"))
		return nil
	}

	err := cmd.run(u, strings.Fields(rest), rest)
	var ue usageError
	switch {
	case err == nil:
	case errors.As(err, &ue):
		u.conn.Output(session.Err(ue.Error()))
	default:
		u.logger.Debug("command failed", "command", name, "error", err)
		u.conn.Output(session.Err(err.Error()))
	}
	return nil
}

func cmdOpen(u *User, args []string, _ string) error {
	if len(args) == 0 {
		return usageError(commands["open"].usage)
	}
	id := args[0]
	if !strings.Contains(id, "/") {
		id = JoinID(id, u.conn.ID())
	}
	// lead channels speak as their qualifier
	if _, qual, err := ParseID(id); err == nil && u.conn.Privilege() < 1 &&
		session.Key(qual) != session.Key(u.conn.ID()) {
		return fmt.Errorf("cannot lead %s: qualifier must be your own name", id)
	}
	if _, err := u.Open(id, true, args[1:]); err != nil {
		return err
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdWatch(u *User, args []string, _ string) error {
	if len(args) != 1 {
		return usageError(commands["watch"].usage)
	}
	if _, err := u.Open(args[0], false, nil); err != nil {
		return err
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdClose(u *User, args []string, _ string) error {
	if len(args) > 1 {
		return usageError(commands["close"].usage)
	}
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	if err := u.CloseChannel(id); err != nil {
		return err
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdSwitch(u *User, args []string, _ string) error {
	if len(args) != 1 {
		return usageError(commands["switch"].usage)
	}
	if err := u.Switch(args[0]); err != nil {
		return err
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdChannels(u *User, _ []string, _ string) error {
	u.mu.Lock()
	parts := make([]string, 0, len(u.order))
	for _, ch := range u.order {
		var flags []string
		if ch == u.current {
			flags = append(flags, "current")
		}
		if ch.lead {
			flags = append(flags, "lead")
		}
		if len(flags) > 0 {
			parts = append(parts, ch.id+" ("+strings.Join(flags, ", ")+")")
		} else {
			parts = append(parts, ch.id)
		}
	}
	u.mu.Unlock()

	if len(parts) == 0 {
		u.conn.Output(session.Msg("no open channels"))
		return nil
	}
	u.conn.Output(session.Msg("channels: " + strings.Join(parts, "; ")))
	return nil
}

func cmdApps(u *User, _ []string, _ string) error {
	ids := u.env.Apps.List()
	if len(ids) == 0 {
		u.conn.Output(session.Msg("no running applications"))
		return nil
	}
	u.conn.Output(session.Msg("applications: " + strings.Join(ids, ", ")))
	return nil
}

func cmdCreate(u *User, args []string, _ string) error {
	if len(args) == 0 {
		return usageError(commands["create"].usage)
	}
	if _, err := u.env.Apps.Create(args[0], args[1:]); err != nil {
		return err
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdWho(u *User, _ []string, _ string) error {
	u.conn.Output(session.Msg("users: " + strings.Join(u.env.Registry.Names(), ", ")))
	return nil
}

func cmdBroadcast(u *User, _ []string, rest string) error {
	if rest == "" {
		return usageError(commands["broadcast"].usage)
	}
	u.env.Registry.Broadcast(session.Msg(u.conn.ID() + ": " + rest))
	return nil
}

func cmdTell(u *User, args []string, rest string) error {
	if len(args) < 2 {
		return usageError(commands["tell"].usage)
	}
	to := args[0]
	text := strings.TrimSpace(strings.TrimPrefix(rest, to))

	target := u.env.Registry.Find(to)
	if target == nil {
		return fmt.Errorf("%s is not logged in", to)
	}
	target.Output(session.Msg(u.conn.ID() + " tells you: " + text))
	u.conn.Output(session.Ack())
	return nil
}

func cmdPing(u *User, _ []string, _ string) error {
	u.conn.Output(session.Ack())
	return nil
}

func cmdQuit(u *User, _ []string, _ string) error {
	u.conn.Stop()
	return nil
}

func cmdShutdown(u *User, args []string, _ string) error {
	sd := u.env.Shutdown
	if sd == nil {
		return errors.New("shutdown is not available")
	}
	if len(args) != 1 {
		return usageError(commands["shutdown"].usage)
	}

	switch args[0] {
	case "cancel":
		if err := sd.Cancel(); err != nil {
			return errors.New("no shutdown is pending")
		}
	case "status":
		at, ok := sd.Pending()
		if !ok {
			u.conn.Output(session.Msg("no shutdown is pending"))
			return nil
		}
		u.conn.Output(session.Msg("shutdown at " + at.Format(time.RFC3339)))
		return nil
	default:
		mins, err := strconv.Atoi(args[0])
		if err != nil || mins < 0 || mins > int(maxShutdownDelay/time.Minute) {
			return usageError(commands["shutdown"].usage)
		}
		if err := sd.ScheduleIn(time.Duration(mins) * time.Minute); err != nil {
			return errors.New("a shutdown is already pending")
		}
		u.logger.Info("shutdown requested", "minutes", mins)
	}
	u.conn.Output(session.Ack())
	return nil
}

func cmdHelp(u *User, _ []string, _ string) error {
	names := make([]string, 0, len(commands))
	for name, cmd := range commands {
		if u.conn.Privilege() >= cmd.privilege {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		u.conn.Output(session.Msg(string(session.Sentinel) + commands[name].usage))
	}
	return nil
}
