package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// RawEvent is one parsed event log record plus the channel-local record id
// used for resume bookkeeping.
type RawEvent struct {
	RecordID uint64
	Event    models.LogEvent
}

// Querier reads up to max records from an event log channel matching an
// XPath query, oldest first.
type Querier interface {
	Query(ctx context.Context, channel, xpath string, max int) ([]RawEvent, error)
}

// WevtutilQuerier shells out to wevtutil, the stock Windows event-log query
// tool. Rendered XML output carries both the structured system block and the
// localized message.
type WevtutilQuerier struct{}

// NewWevtutilQuerier returns the production querier.
func NewWevtutilQuerier() *WevtutilQuerier {
	return &WevtutilQuerier{}
}

// Query runs `wevtutil qe <channel> /q:<xpath> /c:<max> /f:renderedxml`.
func (q *WevtutilQuerier) Query(ctx context.Context, channel, xpath string, max int) ([]RawEvent, error) {
	cmd := exec.CommandContext(ctx, "wevtutil", "qe", channel,
		"/q:"+xpath,
		fmt.Sprintf("/c:%d", max),
		"/f:renderedxml")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("wevtutil query on %s failed: %s", channel, msg)
	}

	return parseRenderedXML(stdout.Bytes())
}

// xmlEvent mirrors the subset of the rendered event schema we consume.
type xmlEvent struct {
	System struct {
		Provider struct {
			Name string `xml:"Name,attr"`
		} `xml:"Provider"`
		EventID       string `xml:"EventID"`
		Level         int    `xml:"Level"`
		EventRecordID uint64 `xml:"EventRecordID"`
		Channel       string `xml:"Channel"`
		Computer      string `xml:"Computer"`
		TimeCreated   struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
		Security struct {
			UserID string `xml:"UserID,attr"`
		} `xml:"Security"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
	RenderingInfo struct {
		Message string `xml:"Message"`
	} `xml:"RenderingInfo"`
}

// parseRenderedXML decodes wevtutil output. The tool emits a sequence of
// <Event> elements with no document root, so a synthetic root is added
// before decoding.
func parseRenderedXML(data []byte) ([]RawEvent, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var wrapped bytes.Buffer
	wrapped.WriteString("<Events>")
	wrapped.Write(data)
	wrapped.WriteString("</Events>")

	decoder := xml.NewDecoder(&wrapped)
	decoder.Strict = false

	var doc struct {
		Events []xmlEvent `xml:"Event"`
	}
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse rendered event xml: %w", err)
	}

	out := make([]RawEvent, 0, len(doc.Events))
	for _, xe := range doc.Events {
		out = append(out, RawEvent{
			RecordID: xe.System.EventRecordID,
			Event:    toLogEvent(xe),
		})
	}
	return out, nil
}

func toLogEvent(xe xmlEvent) models.LogEvent {
	eventID, _ := strconv.Atoi(strings.TrimSpace(xe.System.EventID))

	data := make(map[string]string, len(xe.EventData.Data))
	for _, d := range xe.EventData.Data {
		if d.Name != "" {
			data[d.Name] = strings.TrimSpace(d.Value)
		}
	}

	message := strings.TrimSpace(xe.RenderingInfo.Message)
	if message == "" {
		// Forwarded or unrenderable records carry no localized message;
		// fall back to the raw event data pairs.
		pairs := make([]string, 0, len(xe.EventData.Data))
		for _, d := range xe.EventData.Data {
			pairs = append(pairs, d.Name+"="+strings.TrimSpace(d.Value))
		}
		message = strings.Join(pairs, " ")
	}

	user := xe.System.Security.UserID
	if v, ok := data["TargetUserName"]; ok && v != "" && v != "-" {
		user = v
	} else if v, ok := data["SubjectUserName"]; ok && v != "" && v != "-" {
		user = v
	}

	raw, _ := json.Marshal(map[string]any{
		"provider":      xe.System.Provider.Name,
		"eventRecordId": xe.System.EventRecordID,
		"eventData":     data,
	})

	return models.NewLogEvent(
		parseSystemTime(xe.System.TimeCreated.SystemTime),
		xe.System.Computer,
		xe.System.Channel,
		eventID,
		levelName(xe.System.Level),
		user,
		message,
		string(raw),
		"",
	)
}

// parseSystemTime handles the timestamp shapes wevtutil emits. A value that
// refuses to parse falls back to the current time so the event is not lost.
func parseSystemTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func levelName(level int) string {
	switch level {
	case 1:
		return "Critical"
	case 2:
		return "Error"
	case 3:
		return "Warning"
	case 5:
		return "Verbose"
	default:
		// 0 (LogAlways) and 4 (Informational) both read as Information.
		return "Information"
	}
}
