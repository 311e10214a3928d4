package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelFromService(t *testing.T) {
	assert.Equal(t, ChannelIMessage, ChannelFromService("iMessage"))
	assert.Equal(t, ChannelSMS, ChannelFromService("SMS"))
	assert.Equal(t, ChannelSMS, ChannelFromService(""))
}

func TestChannelKind(t *testing.T) {
	assert.Equal(t, "iMessage", ChannelIMessage.String())
	assert.Equal(t, "SMS", ChannelSMS.String())
	assert.True(t, ChannelIMessage.Rich())
	assert.False(t, ChannelSMS.Rich())
}

func TestAttachmentIsImage(t *testing.T) {
	assert.True(t, Attachment{MimeType: "image/jpeg"}.IsImage())
	assert.True(t, Attachment{MimeType: "image/png"}.IsImage())
	assert.False(t, Attachment{MimeType: "application/pdf"}.IsImage())
	assert.False(t, Attachment{MimeType: ""}.IsImage())
}

func TestStatusKindString(t *testing.T) {
	assert.Equal(t, "delivered", StatusDelivered.String())
	assert.Equal(t, "read", StatusRead.String())
}

func TestSendResponse(t *testing.T) {
	assert.True(t, SendResponse{Result: SendSuccess}.Success())
	assert.False(t, SendResponse{Result: SendFailed, Error: "boom"}.Success())
	assert.False(t, SendResponse{Result: SendInvalidRecipient}.Success())

	assert.Equal(t, "success", SendSuccess.String())
	assert.Equal(t, "failed", SendFailed.String())
	assert.Equal(t, "invalid_recipient", SendInvalidRecipient.String())
}
