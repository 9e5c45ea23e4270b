// Package domain holds the value types shared across the message-processing
// pipeline: users, inbound/outbound messages, classifications, and handler
// results. Nothing in this package performs I/O.
package domain

import "time"

// Role is a user's privilege level. Roles form a total order used by the
// handler registry to decide whether a user may invoke a given command.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleEmployee  Role = "employee"
	RoleProvider  Role = "provider"
	RoleFriend    Role = "friend"
	RoleFamiliar  Role = "familiar"
	RoleCustomer  Role = "customer"
	RoleBlock     Role = "block"
)

// roleRank encodes block < customer < friend = familiar < provider < employee < admin.
var roleRank = map[Role]int{
	RoleBlock:    0,
	RoleCustomer: 1,
	RoleFriend:   2,
	RoleFamiliar: 2,
	RoleProvider: 3,
	RoleEmployee: 4,
	RoleAdmin:    5,
}

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r meets or exceeds the minimum role min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Higher returns the more privileged of a and b under the total order.
// Ties (friend/familiar) keep a, since neither outranks the other.
func Higher(a, b Role) Role {
	if roleRank[b] > roleRank[a] {
		return b
	}
	return a
}

// RegistrationStep is the state of a user's name-capture flow.
type RegistrationStep string

const (
	StepNone         RegistrationStep = "none"
	StepAwaitingName RegistrationStep = "awaiting_name"
	StepCompleted    RegistrationStep = "completed"
)

// RegistrationData is the registration sub-state carried in a User's metadata bag.
type RegistrationData struct {
	Step      RegistrationStep `json:"step"`
	Attempts  int              `json:"attempts"`
	StartedAt time.Time        `json:"startedAt"`
}

// User is the identity of a remote participant, keyed by the bridge's
// per-chat address.
type User struct {
	Address        string
	Phone          string
	DisplayName    string
	Role           Role
	Language       string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	MessageCount   int64
	Registration   RegistrationData
	Metadata       map[string]string
}

// MessageKind classifies the media type of an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindOther    MessageKind = "other"
)

// IncomingMessage is a single event drained from the bridge. It is never
// mutated after construction; the processor consumes it exactly once.
type IncomingMessage struct {
	ID        string
	Sender    string
	Content   string
	Kind      MessageKind
	Timestamp time.Time
	Metadata  map[string]string
}

// OutgoingMessage is either a text reply or a media reply, targeting a
// single address. It is owned by the processor until acknowledged by the
// bridge client.
type OutgoingMessage struct {
	Target    string
	Text      string
	MediaPath string
	Caption   string
}

// IsMedia reports whether this is a media reply rather than plain text.
func (m OutgoingMessage) IsMedia() bool {
	return m.MediaPath != ""
}

// Kind is the classifier's primary or secondary category for a message.
type Kind string

const (
	KindCommand    Kind = "command"
	KindGreeting   Kind = "greeting"
	KindFarewell   Kind = "farewell"
	KindQuestion   Kind = "question"
	KindHelp       Kind = "help"
	KindContextual Kind = "contextual"
	KindUnknown    Kind = "unknown"
)

// Sentiment is the coarse emotional valence of a message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Classification is the classifier's pure output. Never persisted.
type Classification struct {
	Primary    Kind
	Confidence float64
	Secondary  map[Kind]struct{}
	Sentiment  Sentiment
}

// Has reports whether k appears as a secondary classification.
func (c Classification) Has(k Kind) bool {
	_, ok := c.Secondary[k]
	return ok
}

// HandlerResult is what a matched handler's executor returns.
type HandlerResult struct {
	Success     bool
	Response    string
	MediaPath   string
	Caption     string
	ShouldReply bool
	Claimed     bool
	Data        map[string]any
	Err         error
}

// ProcessingOutcome classifies how Process() terminated, for logging and
// for the testable-property that duplicate ids produce at most one
// side-effecting outcome.
type ProcessingOutcome string

const (
	OutcomeHandled          ProcessingOutcome = "handled"
	OutcomeAlreadyProcessed ProcessingOutcome = "already_processed"
	OutcomeRegistration     ProcessingOutcome = "registration"
	OutcomeSilent           ProcessingOutcome = "silent"
	OutcomeDenied           ProcessingOutcome = "denied"
	OutcomeFailed           ProcessingOutcome = "failed"
	OutcomeTimeout          ProcessingOutcome = "timeout"
)

// ProcessingResult is the fresh record emitted at the end of Process().
type ProcessingResult struct {
	ID          string
	Outcome     ProcessingOutcome
	User        *User
	HandlerName string
	Errors      []error
}
