package aleo

import (
	"context"
	"testing"

	"github.com/birbparty/aleo-beacon/aleo/aleotest"
)

func BenchmarkClient_LatestHeight(b *testing.B) {
	server := aleotest.NewServer("testnet3", 1000)
	defer server.Close()

	client, err := NewClient[Testnet3](server.BaseURL(), "testnet3")
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.LatestHeight(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClient_GetBlock(b *testing.B) {
	server := aleotest.NewServer("testnet3", 1000)
	defer server.Close()

	client, err := NewClient[Testnet3](server.BaseURL(), "testnet3")
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.GetBlock(ctx, uint32(i%1000)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClient_Parallel(b *testing.B) {
	server := aleotest.NewServer("testnet3", 1000)
	defer server.Close()

	client, err := NewClient[Testnet3](server.BaseURL(), "testnet3")
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.LatestHash(ctx); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkBuildPath(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = buildPath(EndpointFindTransitionID, "au1 transition/with?chars")
	}
}

func BenchmarkNewClient(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := NewClient[Testnet3]("https://vm.aleo.org/api", "testnet3"); err != nil {
			b.Fatal(err)
		}
	}
}
