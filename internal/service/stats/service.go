package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zhouzirui/chat-relay/internal/apperror"
)

// DefaultClientID is the OAuth client the PBX issues report tokens to.
const DefaultClientID = "customer-portal"

const (
	reportWindow     = 2 * time.Hour
	reportTimeLayout = "2006-01-02T15:04:05Z"
	maxErrorBody     = 4 << 10
)

// Config configures the queue statistics service.
type Config struct {
	// FQDN is the PBX base URL, e.g. https://pbx.example.com.
	FQDN      string
	ClientID  string
	Token     string
	Queues    Directory
	OpenHour  int
	CloseHour int
}

// Enabled reports whether the service has enough settings to run.
func (c Config) Enabled() bool {
	return c.FQDN != "" && c.Token != "" && len(c.Queues) > 0
}

// Service counts agents attached to a PBX queue.
type Service struct {
	baseURL    string
	queues     Directory
	openHour   int
	closeHour  int
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds a statistics service. Tokens are fetched lazily with the
// client credentials grant and reused until they expire.
func NewService(cfg Config, httpClient *http.Client, logger *slog.Logger) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	base := strings.TrimRight(cfg.FQDN, "/")

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: cfg.Token,
		TokenURL:     base + "/connect/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Service{
		baseURL:    base,
		queues:     cfg.Queues,
		openHour:   cfg.OpenHour,
		closeHour:  cfg.CloseHour,
		tokens:     cc.TokenSource(tokenCtx),
		httpClient: httpClient,
		logger:     logger.With("component", "stats"),
		now:        time.Now,
	}
}

type agentStatistics struct {
	Value []agentEntry `json:"value"`
}

type agentEntry struct {
	Dn               string `json:"Dn"`
	DnDisplayName    string `json:"DnDisplayName"`
	QueueDisplayName string `json:"QueueDisplayName"`
}

// AgentsInQueue returns the number of agents attached to the named queue.
// Outside business hours the count is always zero.
func (s *Service) AgentsInQueue(ctx context.Context, queue string) (int, error) {
	dn, ok := s.queues.Lookup(queue)
	if !ok {
		return 0, apperror.Validation("Incorrect queue name.")
	}

	token, err := s.tokens.Token()
	if err != nil {
		s.logger.Error("fetch pbx access token", "error", err)
		return 0, apperror.Downstream("Can't get token/empty token.", err)
	}
	if token.AccessToken == "" {
		return 0, apperror.Downstream("Can't get token/empty token.", nil)
	}

	agents, err := s.fetchAgents(ctx, dn, token)
	if err != nil {
		return 0, err
	}

	if !s.withinBusinessHours() {
		s.logger.Info("queue statistics requested outside business hours",
			"queue", queue, "open_hour", s.openHour, "close_hour", s.closeHour)
		return 0, nil
	}

	s.logger.Info("agents in queue", "queue", queue, "dn", dn, "agents", len(agents))
	return len(agents), nil
}

func (s *Service) fetchAgents(ctx context.Context, dn string, token *oauth2.Token) ([]string, error) {
	end := s.now().UTC()
	start := end.Add(-reportWindow)
	url := fmt.Sprintf(
		"%s/xapi/v1/ReportAgentsInQueueStatistics/Pbx.GetAgentsInQueueStatisticsData(queueDnStr='%s',startDt=%s,endDt=%s,waitInterval='0')",
		s.baseURL, dn, start.Format(reportTimeLayout), end.Format(reportTimeLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create report request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Downstream("queue statistics request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperror.Downstream(
			fmt.Sprintf("Request failed with status code: %d and message: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var report agentStatistics
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, apperror.Downstream("PBX response is empty. Can't check available agents.", err)
	}

	agents := make([]string, 0, len(report.Value))
	for _, entry := range report.Value {
		if entry.Dn == "" {
			continue
		}
		agents = append(agents, entry.Dn)
		s.logger.Debug("queue agent", "agent", entry.DnDisplayName, "queue", entry.QueueDisplayName, "dn", entry.Dn)
	}
	return agents, nil
}

func (s *Service) withinBusinessHours() bool {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sinceMidnight := now.Sub(midnight)
	open := time.Duration(s.openHour) * time.Hour
	closing := time.Duration(s.closeHour) * time.Hour
	return sinceMidnight >= open && sinceMidnight <= closing
}
