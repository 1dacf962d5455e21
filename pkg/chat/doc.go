// Package chat is the conversation front-end of the assistant. It keeps an
// in-memory transcript per session key and runs one agent turn at a time per
// session, so a user who sends twice in a row gets the answers in order.
//
// Usage:
//
//	svc := chat.NewService(orch, queue, chat.Config{})
//	reply, err := svc.Send(ctx, chat.SendRequest{Message: "What is APOE4?"})
//	// reply.SessionKey identifies the conversation for follow-up questions
package chat
