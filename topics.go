package helploop

// Topic naming: logical addresses multiplexed over the one connection.

// ChatTopic returns the topic carrying bot/user/agent traffic for one
// conversation.
func ChatTopic(sessionID string) string {
	return "/topic/chat/" + sessionID
}

// ComplaintTopic returns the topic for a support-ticket chat. The framing is
// identical to chat topics.
func ComplaintTopic(caseID string) string {
	return "/topic/complaints/" + caseID
}

// AccountStatusTopic returns the per-user account-status topic.
func AccountStatusTopic(userID string) string {
	return "/topic/user/" + userID + "/account-status"
}

// AccountStatusBroadcast is the shared account-status topic. Events on it
// carry the target user id in the payload.
const AccountStatusBroadcast = "/topic/account-status"
