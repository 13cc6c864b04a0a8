package notifier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/notifier"
)

const DefaultRequestSubject = "request"

// Function runs a command for a charge point and sends exactly one response on
// the channel.
type Function func(string, []byte, chan common.Response)

type natsChargePointNotifier struct {
	notification chan notifier.Notification // notifications to publish
	connection   *nats.Conn
	handlers     map[string]Function
	timeout      time.Duration // how long a request waits for its Function
	subject      string
	log          *logrus.Entry
	validate     *validator.Validate

	done chan struct{}
	wg   sync.WaitGroup
}

func (ncp *natsChargePointNotifier) SetTimeout(timeout time.Duration) {
	ncp.timeout = timeout
}

func (ncp *natsChargePointNotifier) Timeout() time.Duration {
	return ncp.timeout
}

func (ncp *natsChargePointNotifier) SetRequestSubject(subject string) {
	ncp.subject = subject
}

// AddHandler must be called before Start.
func (ncp *natsChargePointNotifier) AddHandler(action string, fn Function) {
	ncp.handlers[action] = fn
}

func (ncp *natsChargePointNotifier) SetChannel(notification chan notifier.Notification) {
	ncp.notification = notification
}

func (ncp *natsChargePointNotifier) publishNotifications() {
	defer ncp.wg.Done()
	for {
		select {
		case n, ok := <-ncp.notification:
			if !ok {
				return
			}
			bt, err := json.Marshal(n.Data)
			if err != nil {
				ncp.log.WithField("topic", n.Topic).Errorf("encoding notification: %v", err)
				continue
			}
			if err := ncp.connection.Publish(n.Topic, bt); err != nil {
				ncp.log.WithField("topic", n.Topic).Errorf("publishing notification: %v", err)
			}
		case <-ncp.done:
			return
		}
	}
}

func (ncp *natsChargePointNotifier) respond(m *nats.Msg, response common.Response) {
	bt, err := json.Marshal(response)
	if err != nil {
		bt, _ = json.Marshal(common.NewErrorResponse("response.not.encoded", err.Error()))
	}
	if response.Err != nil {
		ncp.log.Errorf("RequestHandler => %v", response.Err)
	} else {
		ncp.log.Debugf("RequestHandler => Response, %v", string(bt))
	}
	if err := m.Respond(bt); err != nil {
		ncp.log.Errorf("responding to request: %v", err)
	}
}

// requestHandler serves the request/reply pattern: a common.Command routed to
// the Function registered for its action.
func (ncp *natsChargePointNotifier) requestHandler(m *nats.Msg) {
	ncp.log.Debugf("RequestHandler, %+v", string(m.Data))

	var command common.Command
	if err := json.Unmarshal(m.Data, &command); err != nil {
		ncp.respond(m, common.NewErrorResponse("command.format.not.valid", "The command is not valid JSON"))
		return
	}
	if err := ncp.validate.Struct(&command); err != nil {
		ncp.respond(m, common.NewErrorResponse("command.format.not.valid", "The command is not valid"))
		return
	}

	fn, exists := ncp.handlers[command.Action]
	if !exists {
		ncp.respond(m, common.NewErrorResponse("command.action.not.found", fmt.Sprintf("No action \"%v\"", command.Action)))
		return
	}

	responseChannel := make(chan common.Response, 1)
	payload, _ := json.Marshal(command.Payload)

	go fn(command.ChargePointId, payload, responseChannel)

	timer := time.NewTimer(ncp.timeout)
	defer timer.Stop()
	select {
	case response := <-responseChannel:
		ncp.respond(m, response)
	case <-timer.C:
		ncp.respond(m, common.NewErrorResponse("request.timeout", "The request timed out"))
	}
}

func (ncp *natsChargePointNotifier) Start(url string, options ...nats.Option) error {
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return fmt.Errorf("connect to nats at %v: %w", url, err)
	}
	// requests are served concurrently
	_, err = nc.Subscribe(ncp.subject, func(m *nats.Msg) {
		go ncp.requestHandler(m)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe to %v: %w", ncp.subject, err)
	}
	ncp.connection = nc
	if ncp.notification != nil {
		ncp.wg.Add(1)
		go ncp.publishNotifications()
	}
	ncp.log.WithField("subject", ncp.subject).Info("nats notifier started")
	return nil
}

func (ncp *natsChargePointNotifier) Stop() {
	if ncp.connection == nil {
		return
	}
	close(ncp.done)
	ncp.wg.Wait()
	if err := ncp.connection.Drain(); err != nil {
		ncp.connection.Close()
	}
	ncp.connection = nil
	ncp.log.Info("NatsStopped")
}

func New(log *logrus.Entry) *natsChargePointNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &natsChargePointNotifier{
		handlers: make(map[string]Function),
		timeout:  30 * time.Second,
		subject:  DefaultRequestSubject,
		log:      log.WithField("component", "nats"),
		validate: validator.New(),
		done:     make(chan struct{}),
	}
}
