package redisrepo

import "fmt"

const ns = "tixledger:v1"

func KeyTicket(id uint32) string {
	return fmt.Sprintf("%s:ticket:%d", ns, id)
}

func KeyEventTickets(eventID uint32) string {
	return fmt.Sprintf("%s:event:%d:tickets", ns, eventID)
}

func KeyResaleTickets() string {
	return ns + ":tickets:resale"
}

func KeyRegistry() string {
	return ns + ":registry"
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelTicketsChanged() string {
	return ns + ":tickets:changed"
}
