package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rawblock/memswap-solver/internal/api"
	"github.com/rawblock/memswap-solver/internal/authsubmit"
	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/db"
	"github.com/rawblock/memswap-solver/internal/inventory"
	"github.com/rawblock/memswap-solver/internal/listener"
	"github.com/rawblock/memswap-solver/internal/quote"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/internal/relay"
	"github.com/rawblock/memswap-solver/internal/solver"
)

const (
	solverPoolConcurrency = 10
	solverPoolAttempts    = 15
	authsubmitConcurrency = 500
	authsubmitAttempts    = 5
	inventoryQueueName    = "inventory"
	authsubmitQueueName   = "authsubmit:dispatch"
)

func main() {
	log.Println("Starting memswap solver...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}

	node, err := ethclient.Dial(cfg.NodeRPCURL)
	if err != nil {
		log.Fatalf("FATAL: dialing node: %v", err)
	}

	store, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("FATAL: connecting to redis: %v", err)
	}

	var dbStore *db.Store
	if cfg.PostgresURL != "" {
		dbStore, err = db.Connect(cfg.PostgresURL)
		if err != nil {
			log.Printf("Warning: failed to connect to PostgreSQL, continuing without the audit trail. Error: %v", err)
		} else {
			defer dbStore.Close()
			if err := dbStore.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	publicRelay := relay.NewPublicRelay(node)
	flashbotsRelay := relay.NewFlashbotsRelay(cfg.FlashbotsRelayURL, cfg.RelaySignerKey, node)
	var privateRelay relay.Relay = flashbotsRelay
	if cfg.UsePrivateB() {
		privateRelay = relay.NewBloxrouteRelay(cfg.BloxrouteGatewayURL, cfg.PrivateRelayBAuthToken, flashbotsRelay)
	}

	aggregatorAdapter := quote.NewAggregatorAdapter(cfg.AggregatorBaseURL, cfg.AggregatorAPIKey, cfg.Addresses, cfg.ChainID)
	marketplaceAdapter := quote.NewMarketplaceAdapter(cfg.NFTRoutingBaseURL, cfg.NFTRoutingAPIKey, cfg.Addresses, cfg.SolverKey, cfg.SolverAddress)

	erc20Caps := solver.NewERC20Capabilities(cfg, aggregatorAdapter)
	erc721Caps := solver.NewERC721Capabilities(cfg, marketplaceAdapter)

	wsHub := api.NewHub()
	go wsHub.Run()

	erc20Engine := solver.NewEngine(erc20Caps, node, store, cfg, publicRelay, privateRelay, inventoryQueueName, dbStore, wsHub)
	erc721Engine := solver.NewEngine(erc721Caps, node, store, cfg, publicRelay, privateRelay, inventoryQueueName, dbStore, wsHub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	erc20Pool := queue.NewPool(store, queue.ERC20Queue, solverPoolConcurrency, solverPoolAttempts, erc20Engine.Handle)
	erc721Pool := queue.NewPool(store, queue.ERC721Queue, solverPoolConcurrency, solverPoolAttempts, erc721Engine.Handle)
	go erc20Pool.Run(ctx)
	go erc721Pool.Run(ctx)

	invManager := inventory.NewManager(node, store, cfg, aggregatorAdapter, inventoryQueueName)
	if err := invManager.Start(ctx); err != nil {
		log.Printf("Warning: inventory manager failed to start: %v", err)
	}
	defer invManager.Stop()

	l := listener.New(node, store, cfg.Addresses, cfg.ChainID)
	go func() {
		if err := l.Run(ctx); err != nil {
			log.Printf("listener stopped: %v", err)
		}
	}()

	// The authorization submitter only runs on a matchmaker-side
	// deployment (cfg.MatchmakerKey set). Dispatch jobs are handed off on
	// their own queue — this module's own design, since the spec
	// describes what Dispatch does but not what triggers it.
	if cfg.MatchmakerKey != nil {
		submitter := authsubmit.NewSubmitter(node, store, cfg, privateRelay)
		authsubmitPool := queue.NewPool(store, authsubmitQueueName, authsubmitConcurrency, authsubmitAttempts, dispatchHandler(submitter))
		go authsubmitPool.Run(ctx)
	}

	handler := api.NewAPIHandler(store, cfg, wsHub)
	router := handler.SetupRouter()

	log.Printf("Solver running on :%s (chain %d)", cfg.AdminPort, cfg.ChainID)
	if err := router.Run(":" + cfg.AdminPort); err != nil {
		log.Fatalf("FATAL: http server: %v", err)
	}
}

// dispatchJob is the authsubmit hand-off queue's payload shape.
type dispatchJob struct {
	SolutionSetKey string
	TargetBlock    uint64
}

func dispatchHandler(s *authsubmit.Submitter) queue.Handler {
	return func(ctx context.Context, payload []byte, attempt int) error {
		var job dispatchJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return queue.ErrSkip
		}
		return s.Dispatch(ctx, job.SolutionSetKey, job.TargetBlock)
	}
}
