package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks dispatcher health from /healthz polling.
type HealthState struct {
	Status        string
	Dispatcher    string
	UptimeSeconds int64
	PluginsLoaded int
	Conversations int
	Connected     bool
	LastCheck     time.Time
}

// Activity is a meter that lights up on events and fades over time.
type Activity struct {
	level     int
	lastEvent time.Time
}

const activityMax = 5

func (a *Activity) OnEvent(at time.Time) {
	a.level = activityMax
	a.lastEvent = at
}

// Decay drops one level for every two seconds without events.
func (a *Activity) Decay(now time.Time) {
	if a.level == 0 {
		return
	}
	idle := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.level = max(activityMax-idle, 0)
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityMax {
		if i < a.level {
			b.WriteString(theme.MeterActive.Render("●"))
		} else {
			b.WriteString(theme.MeterInactive.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, activity Activity, spin string, lastBroadcast string, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("RUNNING")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render(strings.ToUpper(health.Dispatcher))
	}

	lastEventStr := "never"
	if !activity.lastEvent.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(activity.lastEvent).Round(time.Second))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" CONVOY WATCH %s", spin)
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Plugins: %d  Conversations: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.PluginsLoaded,
		health.Conversations,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity.Render(theme))
	if lastBroadcast != "" {
		activityLine += theme.Highlight.Render("  Last broadcast: " + lastBroadcast)
	}

	return theme.Panel(width, titleLine, statsLine, activityLine)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
