package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-count/internal/adapter/storage"
	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/service"
	"github.com/rl1809/stock-count/internal/core/workflow"
)

const (
	redisAddr     = "localhost:6379"
	itemID        = "stress-rice"
	containerID   = "stress-bin"
	totalRequests = 50
	rounds        = 5
)

func main() {
	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous locks
	rdb.Del(ctx, "lock:item:"+itemID, "lock:container:"+containerID)

	// Initialize embedded store
	db, err := sqlx.Open("sqlite3", "file:stress?mode=memory&cache=shared")
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := storage.ApplySchema(ctx, db); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	store := storage.NewSQLStore(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	policy := domain.DefaultPolicy()
	policy.AutoCommitLowSeverity = true
	countService, err := service.NewCountService(store, workflow.DefaultRegistry(), policy,
		service.WithLocker(redisAdapter, 5*time.Second))
	if err != nil {
		log.Fatalf("failed to init service: %v", err)
	}

	if _, err := countService.SaveItem(ctx, domain.InventoryItem{
		ID: itemID, Name: "Stress rice", Unit: "g", Workflow: domain.WorkflowContainerWeight,
		Params: domain.ItemParams{TypicalUnitWeight: 1},
	}); err != nil {
		log.Fatalf("failed to save item: %v", err)
	}
	if _, err := countService.RegisterContainer(ctx, domain.ContainerInstance{ID: containerID, TareWeight: 850}); err != nil {
		log.Fatalf("failed to register container: %v", err)
	}

	// Counters
	var committed, busy, failed atomic.Int32

	start := time.Now()
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		for i := 0; i < totalRequests; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				gross := float64(2000 + n)
				rec, err := countService.Submit(ctx, domain.RawCountSubmission{
					ItemID: itemID,
					Actor:  fmt.Sprintf("counter-%d", n),
					Input:  domain.ContainerWeight{ContainerID: containerID, GrossWeight: &gross},
				})
				switch {
				case err == nil && rec.State() == service.StateCommitted:
					committed.Add(1)
				case errors.Is(err, domain.ErrBusy):
					busy.Add(1)
				default:
					failed.Add(1)
				}
			}(i)
		}
		wg.Wait()
	}
	elapsed := time.Since(start)

	c, err := store.GetContainerState(ctx, containerID)
	if err != nil {
		log.Fatalf("failed to read container: %v", err)
	}
	records, err := store.CountRecords(ctx, itemID, totalRequests*rounds)
	if err != nil {
		log.Fatalf("failed to read records: %v", err)
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests*rounds)
	fmt.Printf("Committed:        %d\n", committed.Load())
	fmt.Printf("Busy:             %d\n", busy.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Usage Count:      %d\n", c.UsageCount)
	fmt.Printf("Count Records:    %d\n", len(records))
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if int(committed.Load()) == c.UsageCount && len(records) == c.UsageCount {
		fmt.Println("PASS: usage counter matches committed counts")
	} else {
		fmt.Printf("FAIL: %d commits, usage counter %d, %d records\n", committed.Load(), c.UsageCount, len(records))
	}
	if failed.Load() == 0 {
		fmt.Println("PASS: every request either committed or was turned away as busy")
	} else {
		fmt.Printf("FAIL: %d requests failed\n", failed.Load())
	}
}
