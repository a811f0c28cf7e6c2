// internal/solrpc/pool.go
package solrpc

import (
	"sync"

	"github.com/gagliardetto/solana-go/rpc"
)

// RPCPool rotates over a fixed set of RPC clients round-robin.
type RPCPool struct {
	clients []*rpc.Client
	mutex   sync.Mutex
	index   int
}

func NewRPCPool(rpcList []string) *RPCPool {
	var clients []*rpc.Client
	for _, url := range rpcList {
		clients = append(clients, rpc.New(url))
	}

	return &RPCPool{
		clients: clients,
		index:   0,
	}
}

func (p *RPCPool) GetClient() *rpc.Client {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	client := p.clients[p.index]
	p.index = (p.index + 1) % len(p.clients)
	return client
}

func (p *RPCPool) Size() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.clients)
}
