package chat

// Operation names accepted on the per-chat endpoint.
const (
	OperationSendMessage    = "SendMessage"
	OperationSendURL        = "SendUrl"
	OperationUpdateUserData = "UpdateUserData"
	OperationComplete       = "Complete"
)

const (
	// Alias is the fixed alias echoed to the engagement platform.
	Alias = "207"
	// TenantName is returned in the start-chat response.
	TenantName = "Resources"
)

// PBXMessage is the webhook body posted by the PBX chat channel.
type PBXMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// StartChatRequest is posted by the engagement platform to open a chat.
type StartChatRequest struct {
	NickName     string            `json:"nickName"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	TenantName   string            `json:"tenantName,omitempty"`
	EmailAddress string            `json:"emailAddress,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	UserData     map[string]string `json:"userData"`
}

// StartChatResponse answers a StartChatRequest.
type StartChatResponse struct {
	ChatID     string         `json:"chatId"`
	Path       string         `json:"path"`
	UserID     string         `json:"userId"`
	SecureKey  string         `json:"secureKey"`
	Alias      string         `json:"alias"`
	TenantName string         `json:"tenantName"`
	Messages   []JoinedNotice `json:"messages"`
	StatusCode int            `json:"statusCode"`
}

// JoinedNotice is the synthetic "participant joined" event returned at start.
type JoinedNotice struct {
	From    Participant `json:"from"`
	Index   int         `json:"index"`
	Type    string      `json:"type"`
	UTCTime int64       `json:"utcTime"`
}

// Participant identifies the sender of a JoinedNotice.
type Participant struct {
	Nickname      string `json:"nickname"`
	ParticipantID int    `json:"participantId"`
	Type          string `json:"type"`
}

// OperationRequest is posted by the engagement platform for an existing chat.
type OperationRequest struct {
	OperationName string            `json:"operationName"`
	UserID        string            `json:"userId"`
	SecureKey     string            `json:"secureKey,omitempty"`
	Text          string            `json:"text,omitempty"`
	PushURL       string            `json:"pushUrl,omitempty"`
	UserData      map[string]string `json:"userData,omitempty"`
	Alias         string            `json:"alias,omitempty"`
	TenantName    string            `json:"tenantName,omitempty"`
	MessageType   string            `json:"messageType,omitempty"`
}

// SendMessageResponse answers SendMessage.
type SendMessageResponse struct {
	Messages   []any  `json:"messages"`
	ChatEnded  bool   `json:"chatEnded"`
	StatusCode int    `json:"statusCode"`
	Alias      string `json:"alias"`
	SecureKey  string `json:"secureKey"`
	UserID     string `json:"userId"`
	TenantName string `json:"tenantName"`
}

// OperationResponse answers SendUrl and UpdateUserData.
type OperationResponse struct {
	StatusCode int    `json:"statusCode"`
	Alias      string `json:"alias"`
	SecureKey  string `json:"secureKey"`
	UserID     string `json:"userId"`
	TenantName string `json:"tenantName"`
}

// StatusResponse answers Complete.
type StatusResponse struct {
	StatusCode int `json:"statusCode"`
}
