package device

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/oshokin/alarm-quorum/internal/logger"
)

// Character display geometry.
const (
	Columns = 16
	Rows    = 2
)

// Wrap lays text out on the character display: the first Columns runes on
// the first row, the next Columns on the second, each padded with spaces.
// Text beyond the last row is cut.
func Wrap(text string) [Rows]string {
	runes := []rune(text)

	var lines [Rows]string

	for row := range Rows {
		start := min(row*Columns, len(runes))
		end := min(start+Columns, len(runes))
		line := string(runes[start:end])
		lines[row] = line + strings.Repeat(" ", Columns-(end-start))
	}

	return lines
}

// LogDisplay renders the character display through the logger.
type LogDisplay struct{}

// Show logs both rows of the wrapped text.
func (LogDisplay) Show(ctx context.Context, text string) error {
	lines := Wrap(text)

	logger.InfoKV(ctx, "Display", "row1", lines[0], "row2", lines[1])

	return nil
}

// Desktop notification endpoint.
const (
	notifyDestination = "org.freedesktop.Notifications"
	notifyPath        = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod      = "org.freedesktop.Notifications.Notify"
	notifyTimeout     = int32(10000)
)

// DBusDisplay shows texts as desktop notifications on the session bus. Each
// text replaces the previous notification.
type DBusDisplay struct {
	conn    *dbus.Conn
	appName string

	mu sync.Mutex
	id uint32
}

// NewDBusDisplay connects to the session bus.
func NewDBusDisplay(appName string) (*DBusDisplay, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	return &DBusDisplay{
		conn:    conn,
		appName: appName,
	}, nil
}

// Show posts or replaces the notification.
func (d *DBusDisplay) Show(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines := Wrap(text)
	obj := d.conn.Object(notifyDestination, notifyPath)

	call := obj.CallWithContext(ctx, notifyMethod, 0,
		d.appName,
		d.id,
		"",
		strings.TrimSpace(lines[0]),
		strings.TrimSpace(lines[1]),
		[]string{},
		map[string]dbus.Variant{},
		notifyTimeout,
	)
	if call.Err != nil {
		return fmt.Errorf("notify %q: %w", text, call.Err)
	}

	if err := call.Store(&d.id); err != nil {
		return fmt.Errorf("read notification id: %w", err)
	}

	return nil
}

// Close releases the bus connection.
func (d *DBusDisplay) Close() error {
	return d.conn.Close()
}
