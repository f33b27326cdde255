package notify

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Event-type families sharing a rendering template.
const (
	familyAuthentication = "authentication"
	familyPrivilege      = "privilege"
	familyExecution      = "execution"
	familyCorrelation    = "correlation"
	familyDefault        = "default"
)

// alertView is the flattened data every template renders from.
type alertView struct {
	Title           string
	Summary         string
	Risk            string
	Confidence      int
	Host            string
	Channel         string
	User            string
	EventID         int
	EventType       string
	Time            string
	Mitre           []string
	Actions         []string
	CorrelationType string
	Stages          []string
	EventCount      int
}

func newAlertView(a Alert) alertView {
	v := alertView{Title: a.Title(), Risk: string(a.Risk())}
	if a.Event != nil {
		ev := a.Event.OriginalEvent
		resp := a.Event.Response
		v.Summary = resp.Summary
		v.Confidence = resp.Confidence
		v.Host = ev.Host
		v.Channel = ev.Channel
		v.User = ev.User
		v.EventID = ev.EventID
		v.EventType = string(resp.EventType)
		v.Time = ev.Time.UTC().Format(time.RFC3339)
		v.Mitre = resp.Mitre
		v.Actions = resp.RecommendedActions
	}
	if a.Correlation != nil {
		v.CorrelationType = string(a.Correlation.Type)
		if v.Summary == "" {
			v.Summary = a.Correlation.Summary
		}
		v.EventCount = len(a.Correlation.EventIDs)
	}
	if a.Chain != nil {
		v.Host = a.Chain.Host
		v.Stages = a.Chain.Stages
		v.CorrelationType = string(models.CorrelationTypeAttackChain)
		v.EventCount = len(a.Chain.EventIDs)
		if v.Summary == "" {
			v.Summary = fmt.Sprintf("Suspected attack progression: %s", strings.Join(a.Chain.Stages, " then "))
		}
	}
	return v
}

// familyOf buckets an alert into its template family.
func familyOf(a Alert) string {
	if a.Kind != KindSecurity {
		return familyCorrelation
	}
	if a.Event == nil {
		return familyDefault
	}
	switch a.Event.Response.EventType {
	case models.EventTypeAuthenticationSuccess, models.EventTypeAuthenticationFailure:
		return familyAuthentication
	case models.EventTypePrivilegeEscalation, models.EventTypeAccountManagement:
		return familyPrivilege
	case models.EventTypeProcessCreation, models.EventTypePowerShellExecution,
		models.EventTypeScheduledTask, models.EventTypeServiceInstallation:
		return familyExecution
	case models.EventTypeBurstActivity, models.EventTypeCorrelatedActivity, models.EventTypeAnomalousActivity:
		return familyCorrelation
	default:
		return familyDefault
	}
}

var templateFuncs = template.FuncMap{"join": strings.Join}

// builtinBodies are the default body templates, registered for every
// platform at construction.
var builtinBodies = map[string]string{
	familyAuthentication: `{{.Summary}}{{if .User}}
Account: {{.User}}{{end}}{{if .Mitre}}
MITRE: {{join .Mitre ", "}}{{end}}`,
	familyPrivilege: `{{.Summary}}
Privileged access involved, review before dismissing.{{if .Mitre}}
MITRE: {{join .Mitre ", "}}{{end}}`,
	familyExecution: `{{.Summary}}{{if .Actions}}
Recommended: {{index .Actions 0}}{{end}}`,
	familyCorrelation: `{{.Summary}}{{if .CorrelationType}}
Detection: {{.CorrelationType}} across {{.EventCount}} events{{end}}{{if .Stages}}
Stages: {{join .Stages " -> "}}{{end}}`,
	familyDefault: `{{.Summary}}{{if .Mitre}}
MITRE: {{join .Mitre ", "}}{{end}}`,
}

// TemplateStore resolves the body template for one (platform, family) pair.
// Unknown pairs fall back to the platform default, then to the built-in
// formatter, so rendering never fails an alert.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewTemplateStore returns a store preloaded with the built-in bodies for
// the given platforms.
func NewTemplateStore(platforms ...ChannelType) *TemplateStore {
	s := &TemplateStore{templates: make(map[string]*template.Template)}
	for _, p := range platforms {
		for fam, body := range builtinBodies {
			s.templates[templateKey(p, fam)] = template.Must(
				template.New(templateKey(p, fam)).Funcs(templateFuncs).Parse(body))
		}
	}
	return s
}

// Register installs or replaces the template for one (platform, family).
func (s *TemplateStore) Register(platform ChannelType, family, body string) error {
	tpl, err := template.New(templateKey(platform, family)).Funcs(templateFuncs).Parse(body)
	if err != nil {
		return fmt.Errorf("parse template %s/%s: %w", platform, family, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[templateKey(platform, family)] = tpl
	return nil
}

// Render produces the alert body for platform. Lookup order: exact family,
// platform default, built-in formatter.
func (s *TemplateStore) Render(platform ChannelType, alert Alert) string {
	view := newAlertView(alert)

	s.mu.RLock()
	tpl := s.templates[templateKey(platform, familyOf(alert))]
	if tpl == nil {
		tpl = s.templates[templateKey(platform, familyDefault)]
	}
	s.mu.RUnlock()

	if tpl != nil {
		var buf bytes.Buffer
		if err := tpl.Execute(&buf, view); err == nil {
			return buf.String()
		}
	}
	return builtinFormat(view)
}

func templateKey(platform ChannelType, family string) string {
	return string(platform) + "|" + family
}

// builtinFormat is the rendering of last resort.
func builtinFormat(v alertView) string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(v.Risk), v.EventType, v.Summary)
}
