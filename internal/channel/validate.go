package channel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var inboundValidator = newInboundValidator()

func newInboundValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		msg, ok := sl.Current().Interface().(InboundMessage)
		if !ok {
			return
		}
		if !msg.Channel.Valid() {
			sl.ReportError(msg.Channel, "Channel", "Channel", "platform", string(msg.Channel))
		}
		if msg.Message.IsEmpty() {
			sl.ReportError(msg.Message.Text, "Text", "Text", "required", "")
		}
	}, InboundMessage{})
	return v
}

// ValidateInbound checks that an adapter produced a well-formed conversation event.
// Failures wrap ErrInvalidConversationEvent and name the offending fields.
func ValidateInbound(msg InboundMessage) error {
	msg.OwnerID = strings.TrimSpace(msg.OwnerID)
	msg.ReplyTarget = strings.TrimSpace(msg.ReplyTarget)
	msg.Sender.SubjectID = strings.TrimSpace(msg.Sender.SubjectID)
	err := inboundValidator.Struct(msg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConversationEvent, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConversationEvent, strings.Join(fields, ", "))
}
