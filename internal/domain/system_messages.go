package domain

import "encoding/json"

// Системные сообщения хранят JSON, который клиент форматирует под свою локаль.

type SystemParticipant struct {
	Name    string  `json:"name"`
	Company *string `json:"company,omitempty"`
}

const (
	SystemEventChatCreated        = "chat_created"
	SystemEventParticipantJoined  = "participant_joined"
	SystemEventParticipantLeft    = "participant_left"
	SystemEventParticipantRemoved = "participant_removed"
)

func ChatCreatedContent(participants []SystemParticipant) string {
	if participants == nil {
		participants = []SystemParticipant{}
	}
	return marshalSystem(map[string]interface{}{
		"event":        SystemEventChatCreated,
		"participants": participants,
	})
}

func ParticipantJoinedContent(name string, company *string) string {
	content := map[string]interface{}{
		"event": SystemEventParticipantJoined,
		"name":  name,
	}
	if company != nil {
		content["company"] = *company
	}
	return marshalSystem(content)
}

func ParticipantLeftContent(name string) string {
	return marshalSystem(map[string]interface{}{
		"event": SystemEventParticipantLeft,
		"name":  name,
	})
}

func ParticipantRemovedContent(name string) string {
	return marshalSystem(map[string]interface{}{
		"event": SystemEventParticipantRemoved,
		"name":  name,
	})
}

func marshalSystem(v map[string]interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
