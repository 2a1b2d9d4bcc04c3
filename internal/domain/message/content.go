package message

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"chatline/internal/domain/shared/errkind"
	"chatline/internal/domain/user"
)

var (
	ErrUnknownKind     = errkind.New(errkind.ErrValidation, "message: unknown content type")
	ErrContentInvalid  = errkind.New(errkind.ErrValidation, "message: invalid content payload")
	ErrTextRequired    = errkind.New(errkind.ErrValidation, "message: text is required")
	ErrTextTooLong     = errkind.New(errkind.ErrValidation, "message: text must be at most 4000 characters")
	ErrMediaURL        = errkind.New(errkind.ErrValidation, "message: media url must be an absolute http(s) url")
	ErrLocationRange   = errkind.New(errkind.ErrValidation, "message: location coordinates out of range")
	ErrContactRequired = errkind.New(errkind.ErrValidation, "message: contact needs a name and a phone or email")
	ErrCallInvalid     = errkind.New(errkind.ErrValidation, "message: invalid call payload")
	ErrPollInvalid     = errkind.New(errkind.ErrValidation, "message: poll needs a question and at least two options")
)

const maxTextRunes = 4000

// Kind tags the variant carried by a Content value.
type Kind string

const (
	KindText     Kind = "text"
	KindMedia    Kind = "media"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
	KindCall     Kind = "call"
	KindPoll     Kind = "poll"
)

// Kinds lists every variant in a stable order.
var Kinds = []Kind{KindText, KindMedia, KindLocation, KindContact, KindCall, KindPoll}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if k == "" {
		return KindText, nil
	}
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// Content is the closed set of message payloads. Only types in this package
// implement it.
type Content interface {
	Kind() Kind
	validate() error
}

type Text struct {
	Text string `json:"text"`
}

type Media struct {
	URL          string `json:"url"`
	MimeType     string `json:"mime_type,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Caption      string `json:"caption,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

type CallStatus string

const (
	CallMissed   CallStatus = "missed"
	CallEnded    CallStatus = "ended"
	CallDeclined CallStatus = "declined"
)

type Call struct {
	CallType        CallType   `json:"call_type"`
	Status          CallStatus `json:"status"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
}

type PollOption struct {
	Text  string    `json:"text"`
	Votes []user.ID `json:"votes,omitempty"`
}

type Poll struct {
	Question       string       `json:"question"`
	Options        []PollOption `json:"options"`
	MultipleChoice bool         `json:"multiple_choice,omitempty"`
	ClosesAt       *time.Time   `json:"closes_at,omitempty"`
}

func (Text) Kind() Kind     { return KindText }
func (Media) Kind() Kind    { return KindMedia }
func (Location) Kind() Kind { return KindLocation }
func (Contact) Kind() Kind  { return KindContact }
func (Call) Kind() Kind     { return KindCall }
func (Poll) Kind() Kind     { return KindPoll }

func (c Text) validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return ErrTextRequired
	}
	if utf8.RuneCountInString(c.Text) > maxTextRunes {
		return ErrTextTooLong
	}
	return nil
}

func (c Media) validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrMediaURL
	}
	if c.Size < 0 || utf8.RuneCountInString(c.Caption) > maxTextRunes {
		return ErrContentInvalid
	}
	return nil
}

func (c Location) validate() error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return ErrLocationRange
	}
	return nil
}

func (c Contact) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrContactRequired
	}
	if strings.TrimSpace(c.Phone) == "" && strings.TrimSpace(c.Email) == "" {
		return ErrContactRequired
	}
	return nil
}

func (c Call) validate() error {
	switch c.CallType {
	case CallAudio, CallVideo:
	default:
		return ErrCallInvalid
	}
	switch c.Status {
	case CallMissed, CallEnded, CallDeclined:
	default:
		return ErrCallInvalid
	}
	if c.DurationSeconds < 0 {
		return ErrCallInvalid
	}
	return nil
}

func (c Poll) validate() error {
	if strings.TrimSpace(c.Question) == "" {
		return ErrPollInvalid
	}
	options := 0
	for _, opt := range c.Options {
		if strings.TrimSpace(opt.Text) != "" {
			options++
		}
	}
	if options < 2 || options != len(c.Options) {
		return ErrPollInvalid
	}
	return nil
}

// ParseContent builds the variant named by kind from a raw client payload and
// validates it. A text payload may be a bare JSON string.
func ParseContent(kind Kind, raw json.RawMessage) (Content, error) {
	var (
		content Content
		err     error
	)
	switch kind {
	case KindText:
		content, err = parseText(raw)
	case KindMedia:
		content, err = decodeInto[Media](raw)
	case KindLocation:
		content, err = decodeInto[Location](raw)
	case KindContact:
		content, err = decodeInto[Contact](raw)
	case KindCall:
		content, err = decodeInto[Call](raw)
	case KindPoll:
		var poll Poll
		poll, err = decodeInto[Poll](raw)
		if err == nil {
			for i := range poll.Options {
				poll.Options[i].Votes = nil
			}
		}
		content = poll
	default:
		return nil, ErrUnknownKind
	}
	if err != nil {
		return nil, err
	}
	if err := content.validate(); err != nil {
		return nil, err
	}
	return normalizeContent(content), nil
}

func parseText(raw json.RawMessage) (Content, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ErrContentInvalid
		}
		return Text{Text: s}, nil
	}
	return decodeInto[Text](raw)
}

func decodeInto[T Content](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, ErrContentInvalid
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, ErrContentInvalid
	}
	return out, nil
}

func normalizeContent(c Content) Content {
	switch v := c.(type) {
	case Text:
		v.Text = strings.TrimSpace(v.Text)
		return v
	case Media:
		v.URL = strings.TrimSpace(v.URL)
		v.Caption = strings.TrimSpace(v.Caption)
		return v
	case Contact:
		v.Name = strings.TrimSpace(v.Name)
		v.Phone = strings.TrimSpace(v.Phone)
		v.Email = strings.TrimSpace(v.Email)
		return v
	case Poll:
		v.Question = strings.TrimSpace(v.Question)
		for i := range v.Options {
			v.Options[i].Text = strings.TrimSpace(v.Options[i].Text)
		}
		return v
	default:
		return c
	}
}

// Empty is what a stored payload of an unrecognized kind decodes to. Consumers
// must render it as empty content.
type Empty struct {
	Tag Kind `json:"-"`
}

func (e Empty) Kind() Kind    { return e.Tag }
func (Empty) validate() error { return ErrUnknownKind }

// Preview returns a short human readable summary used in conversation lists.
func Preview(c Content) string {
	switch v := c.(type) {
	case Text:
		return truncate(v.Text, 120)
	case Media:
		if v.Caption != "" {
			return truncate(v.Caption, 120)
		}
		return "[media]"
	case Location:
		return "[location]"
	case Contact:
		return "[contact] " + v.Name
	case Call:
		return "[" + string(v.CallType) + " call]"
	case Poll:
		return "[poll] " + truncate(v.Question, 100)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// DecodeStored rebuilds persisted content without validating it. Payloads of an
// unknown kind or that no longer decode come back as Empty.
func DecodeStored(kind Kind, raw []byte) Content {
	var (
		content Content
		err     error
	)
	switch kind {
	case KindText:
		content, err = decodeInto[Text](raw)
	case KindMedia:
		content, err = decodeInto[Media](raw)
	case KindLocation:
		content, err = decodeInto[Location](raw)
	case KindContact:
		content, err = decodeInto[Contact](raw)
	case KindCall:
		content, err = decodeInto[Call](raw)
	case KindPoll:
		content, err = decodeInto[Poll](raw)
	default:
		return Empty{Tag: kind}
	}
	if err != nil {
		return Empty{Tag: kind}
	}
	return content
}
