package mailer

import (
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer delivers messages through the SendGrid v3 API.
type SendgridMailer struct {
	key    string
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSendgridMailer constructs a SendGrid backed mailer.
func NewSendgridMailer(apiKey, fromName, fromAddress string, logger *zap.Logger) *SendgridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendgridMailer{
		key:    apiKey,
		from:   sgmail.NewEmail(fromName, fromAddress),
		logger: logger,
	}
}

// Send posts the message to SendGrid.
func (m *SendgridMailer) Send(msg Message) {
	if msg.ToEmail == "" || msg.Subject == "" {
		return
	}

	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	contents := []*sgmail.Content{sgmail.NewContent("text/plain", msg.Text)}
	if msg.HTML != "" {
		contents = append(contents, sgmail.NewContent("text/html", msg.HTML))
	}
	v3.AddContent(contents...)

	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(v3)

	res, err := sendgrid.API(req)
	if err != nil {
		m.logger.Warn("send email", zap.String("to", msg.ToEmail), zap.Error(err))
		return
	}
	if res.StatusCode >= http.StatusBadRequest {
		m.logger.Warn("send email", zap.String("to", msg.ToEmail), zap.Int("status", res.StatusCode))
	}
}
