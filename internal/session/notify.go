package session

import (
	"github.com/alanbriolat/video-downloader/internal/pubsub"
)

// NotificationText returns the notification to show for an event, or "" for none.
func NotificationText(e Event) string {
	update, ok := e.(TaskUpdated)
	if !ok || !update.StatusChanged() {
		return ""
	}
	title := update.NewState.Title
	switch update.NewState.Status {
	case TaskStatusDownloading:
		return "Downloading: " + title
	case TaskStatusMerging:
		return "Merging: " + title
	case TaskStatusCompleted:
		return "Completed: " + title
	case TaskStatusFailed:
		return "Failed: " + title
	default:
		return ""
	}
}

func runNotifier(sub pubsub.ReceiverCloser[Event], n Notifier) {
	for e := range sub.Receive() {
		if text := NotificationText(e); text != "" {
			n.Notify(text)
		}
	}
}
