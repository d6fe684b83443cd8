package notifysvc

import (
	"fmt"

	"github.com/trezcool/hadiri/core"
)

// LogNotifier writes notifications to the application log. The browser
// client gets them through the event stream; this is the server-side trail.
type LogNotifier struct {
	logger core.Logger
}

var _ core.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger core.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notif core.Notification) {
	msg := fmt.Sprintf("[%s] %s", notif.Key, notif.Message)
	switch notif.Severity {
	case core.SeverityWarning:
		n.logger.Warn(msg)
	case core.SeverityError:
		n.logger.Error(msg)
	default:
		n.logger.Info(msg)
	}
}
