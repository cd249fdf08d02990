package chain

// Registry event topic hashes (keccak-256 of the event signatures).
const (
	// TopicRequest is Request(address,uint256,bytes): a requester posted a
	// task with the content hash of its payload.
	TopicRequest = "0x4bda649efe6b98b0f9c1d5e859c29e20910f45c66dabfe6fad4a4881f7faf9cc"

	// TopicDeliver is Deliver(address,uint256,bytes): a worker published
	// the content hash of a result.
	TopicDeliver = "0x0cd979445339c62199996f208428d987b1cea24d18e62b79ec24d94b636e8b70"
)
