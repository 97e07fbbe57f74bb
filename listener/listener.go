package listener

// Listener is a capability set of named callbacks: a structure of optional
// callback slots rather than an interface every observer must fully
// implement. The bus dispatches only to the slots a Listener has set,
// matching the fixed event set in spec.md §4.4.
//
// This is the idiomatic-Go rendering of the Python original's
// MongoListener base class with its many empty overridable methods.
type Listener struct {
	Name string

	OnOpen  func(Endpoint)
	OnClose func(Endpoint)

	BeforeQuery  func(Envelope)
	AfterQuery   func(Envelope)
	BeforeInsert func(Envelope)
	AfterInsert  func(Envelope)
	BeforeUpdate func(Envelope)
	AfterUpdate  func(Envelope)
	BeforeDelete func(Envelope)
	AfterDelete  func(Envelope)
	BeforeMore   func(Envelope)
	AfterMore    func(Envelope)
	BeforeReply  func(Envelope)
	AfterReply   func(Envelope)

	BeforeQuerySend  func(Envelope)
	AfterQuerySend   func(Envelope)
	BeforeQueryReply func(Envelope)
	AfterQueryReply  func(Envelope)

	BeforeMoreSend  func(Envelope)
	AfterMoreSend   func(Envelope)
	BeforeMoreReply func(Envelope)
	AfterMoreReply  func(Envelope)

	// OnSessionSummary fires once, when an inline session ends. The offline
	// driver does not dispatch a summary.
	OnSessionSummary func(Summary)
}
