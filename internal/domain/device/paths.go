package device

// Remote store layout. The main document carries identity and config; the
// heartbeat lives in a runtime sub-document so liveness writes do not wake
// the pull subscription. Commands and chats are per-device collections.

// DocPath returns the main device document path.
func DocPath(deviceID string) string {
	return "devices/" + deviceID
}

// HeartbeatPath returns the runtime heartbeat sub-document path.
func HeartbeatPath(deviceID string) string {
	return DocPath(deviceID) + "/runtime/heartbeat"
}

// CommandsPath returns the command collection path.
func CommandsPath(deviceID string) string {
	return DocPath(deviceID) + "/commands"
}

// CommandPath returns the path of one command document.
func CommandPath(deviceID, commandID string) string {
	return CommandsPath(deviceID) + "/" + commandID
}

// ChatsPath returns the chat thread collection path.
func ChatsPath(deviceID string) string {
	return DocPath(deviceID) + "/chats"
}

// MessagesPath returns the message collection path of one chat thread.
func MessagesPath(deviceID, chatID string) string {
	return ChatsPath(deviceID) + "/" + chatID + "/messages"
}

// MessagePath returns the path of one message document.
func MessagePath(deviceID, chatID, messageID string) string {
	return MessagesPath(deviceID, chatID) + "/" + messageID
}
