/*
Package count implements probabilistic cardinality estimation.

HyperLogLog estimates the number of distinct elements of a stream in a fixed
number of small registers. Every element is hashed; the low precision bits of
the hash select a register and the register keeps the largest rank (position
of the lowest set bit of the remaining hash bits) seen so far. Refer:
http://algo.inria.fr/flajolet/Publications/FlFuGaMe07.pdf

The package implements both in-memory and Redis backed sketches with identical
register layouts, plus an exact counter used as a reference.
*/
package count

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kwertop/hllcount"
	"github.com/redis/go-redis/v9"
)

const redisBatchSize = 512

var errNoRedisClient = errors.New("hllcount: redis client not initialised, call MakeRedisClient")

// HyperLogLogRedis is the Redis backed sketch.
// _key_ holds the Redis list with the registers
// _metadataKey_ holds a hash with the config and _key_, so the sketch can be
// reopened from another process with NewHyperLogLogRedisFromKey
type HyperLogLogRedis struct {
	AbstractHyperLogLog
	key         string
	metadataKey string
}

var initRegistersScript = redis.NewScript(`
	local key = KEYS[1]
	local size = tonumber(ARGV[1])
	redis.call('DEL', key)
	local pushed = 0
	while pushed < size do
		local n = math.min(1024, size - pushed)
		local zeros = {}
		for i=1, n do
			zeros[i] = 0
		end
		redis.call('RPUSH', key, unpack(zeros))
		pushed = pushed + n
	end
	return true
`)

var updateRegistersScript = redis.NewScript(`
	local key = KEYS[1]
	for i=1, #ARGV, 2 do
		local index = tonumber(ARGV[i])
		local val = tonumber(ARGV[i+1])
		local current = redis.call('LINDEX', key, index)
		if not current then
			return redis.error_reply('ERR register ' .. index .. ' missing')
		end
		if val > tonumber(current) then
			redis.call('LSET', key, index, val)
		end
	end
	return true
`)

var registerHistogramScript = redis.NewScript(`
	local values = redis.call('LRANGE', KEYS[1], 0, -1)
	local counts = {}
	for i=1, tonumber(ARGV[1]) + 1 do
		counts[i] = 0
	end
	for i=1, #values do
		local r = tonumber(values[i]) + 1
		counts[r] = (counts[r] or 0) + 1
	end
	return counts
`)

var mergeRegistersScript = redis.NewScript(`
	local vals1 = redis.call('LRANGE', KEYS[1], 0, -1)
	local vals2 = redis.call('LRANGE', KEYS[2], 0, -1)
	if #vals1 ~= #vals2 then
		return redis.error_reply('ERR register count mismatch')
	end
	for i=1, #vals2 do
		if tonumber(vals1[i]) < tonumber(vals2[i]) then
			redis.call('LSET', KEYS[1], i-1, vals2[i])
		end
	end
	return true
`)

var compareRegistersScript = redis.NewScript(`
	local vals1 = redis.call('LRANGE', KEYS[1], 0, -1)
	local vals2 = redis.call('LRANGE', KEYS[2], 0, -1)
	if #vals1 ~= #vals2 then
		return 0
	end
	for i=1, #vals1 do
		if tonumber(vals1[i]) ~= tonumber(vals2[i]) then
			return 0
		end
	end
	return 1
`)

func redisClient() (*redis.Client, error) {
	client := hllcount.GetRedisClient()
	if client == nil {
		return nil, errNoRedisClient
	}
	return client, nil
}

// NewHyperLogLogRedis creates a Redis backed sketch for config under fresh random keys.
func NewHyperLogLogRedis(ctx context.Context, config Config) (*HyperLogLogRedis, error) {
	abstractLog, err := MakeAbstractHyperLogLog(config)
	if err != nil {
		return nil, err
	}
	client, err := redisClient()
	if err != nil {
		return nil, err
	}
	h := &HyperLogLogRedis{
		AbstractHyperLogLog: *abstractLog,
		key:                 hllcount.GenerateRandomString(16),
		metadataKey:         hllcount.GenerateRandomString(16),
	}
	if err := h.writeMetadata(ctx, client); err != nil {
		return nil, err
	}
	if err := initRegistersScript.Run(ctx, client, []string{h.key}, h.numRegisters).Err(); err != nil {
		_ = client.Del(context.WithoutCancel(ctx), h.metadataKey, h.key).Err()
		return nil, fmt.Errorf("hllcount: error while initializing hyperloglog registers in redis, error: %w", err)
	}
	return h, nil
}

// NewHyperLogLogRedisFromKey reopens the sketch whose metadata is stored at
// _metadataKey_. The register list must still exist in Redis.
func NewHyperLogLogRedisFromKey(ctx context.Context, metadataKey string) (*HyperLogLogRedis, error) {
	client, err := redisClient()
	if err != nil {
		return nil, err
	}
	values, err := client.HGetAll(ctx, metadataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hllcount: error reading hyperloglog metadata from redis, error: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("hllcount: no hyperloglog metadata at key %s", metadataKey)
	}
	precision, err := strconv.ParseUint(values["precision"], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: precision %q", ErrCorrupt, values["precision"])
	}
	hash, err := hllcount.ParseHashKind(values["hash"])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	abstractLog, err := MakeAbstractHyperLogLog(Config{Precision: uint8(precision), Hash: hash})
	if err != nil {
		return nil, err
	}
	return &HyperLogLogRedis{*abstractLog, values["key"], metadataKey}, nil
}

func (h *HyperLogLogRedis) writeMetadata(ctx context.Context, client *redis.Client) error {
	metadata := map[string]interface{}{
		"precision": h.config.Precision,
		"hash":      h.config.Hash.String(),
		"key":       h.key,
	}
	if err := client.HSet(ctx, h.metadataKey, metadata).Err(); err != nil {
		return fmt.Errorf("hllcount: error creating hyperloglog redis, error: %w", err)
	}
	return nil
}

func (h *HyperLogLogRedis) Key() string {
	return h.key
}

// MetadataKey returns the Redis key of the metadata hash.
func (h *HyperLogLogRedis) MetadataKey() string {
	return h.metadataKey
}

// Add records data with one atomic server-side register update.
func (h *HyperLogLogRedis) Add(ctx context.Context, data []byte) error {
	index, r := h.locate(data)
	return h.updateRegisters(ctx, []interface{}{index, r})
}

// AddStrings records values, sending register updates in batches.
func (h *HyperLogLogRedis) AddStrings(ctx context.Context, values []string) error {
	args := make([]interface{}, 0, 2*min(len(values), redisBatchSize))
	for _, v := range values {
		index, r := h.locateString(v)
		args = append(args, index, r)
		if len(args) == 2*redisBatchSize {
			if err := h.updateRegisters(ctx, args); err != nil {
				return err
			}
			args = args[:0]
		}
	}
	if len(args) == 0 {
		return nil
	}
	return h.updateRegisters(ctx, args)
}

func (h *HyperLogLogRedis) updateRegisters(ctx context.Context, args []interface{}) error {
	client, err := redisClient()
	if err != nil {
		return err
	}
	if err := updateRegistersScript.Run(ctx, client, []string{h.key}, args...).Err(); err != nil {
		return fmt.Errorf("hllcount: error while updating hyperloglog registers in redis, error: %w", err)
	}
	return nil
}

// Estimate returns the same value HyperLogLog.Estimate would for these registers.
func (h *HyperLogLogRedis) Estimate(ctx context.Context) (uint64, error) {
	counts, err := h.registerHistogram(ctx)
	if err != nil {
		return 0, err
	}
	return h.getEstimation(histogramSum(counts)), nil
}

// EstimateTiered returns the same value HyperLogLog.EstimateTiered would for these registers.
func (h *HyperLogLogRedis) EstimateTiered(ctx context.Context) (uint64, error) {
	counts, err := h.registerHistogram(ctx)
	if err != nil {
		return 0, err
	}
	return h.getTieredEstimation(histogramSum(counts), counts[0]), nil
}

// registerHistogram returns counts[r], the number of registers holding r.
func (h *HyperLogLogRedis) registerHistogram(ctx context.Context) ([]uint64, error) {
	client, err := redisClient()
	if err != nil {
		return nil, err
	}
	counts, err := registerHistogramScript.Run(ctx, client, []string{h.key}, h.config.MaxRank()).Uint64Slice()
	if err != nil {
		return nil, fmt.Errorf("hllcount: error while reading hyperloglog registers from redis, error: %w", err)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: empty register histogram", ErrCorrupt)
	}
	return counts, nil
}

// Merge folds g into h by element-wise maximum.
func (h *HyperLogLogRedis) Merge(ctx context.Context, g *HyperLogLogRedis) error {
	if err := h.compatible(&g.AbstractHyperLogLog); err != nil {
		return err
	}
	client, err := redisClient()
	if err != nil {
		return err
	}
	if err := mergeRegistersScript.Run(ctx, client, []string{h.key, g.key}).Err(); err != nil {
		return fmt.Errorf("hllcount: error while merging registers %s with %s, error: %w", h.key, g.key, err)
	}
	return nil
}

// Equals reports whether g has the same config and registers as h.
func (h *HyperLogLogRedis) Equals(ctx context.Context, g *HyperLogLogRedis) (bool, error) {
	if h.config != g.config {
		return false, nil
	}
	client, err := redisClient()
	if err != nil {
		return false, err
	}
	same, err := compareRegistersScript.Run(ctx, client, []string{h.key, g.key}).Int()
	if err != nil {
		return false, fmt.Errorf("hllcount: error while comparing registers %s with %s, error: %w", h.key, g.key, err)
	}
	return same == 1, nil
}

// Registers fetches the register array.
func (h *HyperLogLogRedis) Registers(ctx context.Context) ([]uint8, error) {
	client, err := redisClient()
	if err != nil {
		return nil, err
	}
	result, err := client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hllcount: error fetching registers from redis, error: %w", err)
	}
	registers := make([]uint8, len(result))
	for i := range result {
		val, err := strconv.ParseUint(result[i], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: register %d is %q", ErrCorrupt, i, result[i])
		}
		registers[i] = uint8(val)
	}
	if err := checkRegisters(h.config, registers); err != nil {
		return nil, err
	}
	return registers, nil
}

// Snapshot copies the registers into an in-memory sketch.
func (h *HyperLogLogRedis) Snapshot(ctx context.Context) (*HyperLogLog, error) {
	registers, err := h.Registers(ctx)
	if err != nil {
		return nil, err
	}
	sketch := &HyperLogLog{}
	if err := sketch.load(h.config, registers); err != nil {
		return nil, err
	}
	return sketch, nil
}

// Export JSON marshals the sketch in the format HyperLogLog.Import reads.
func (h *HyperLogLogRedis) Export(ctx context.Context) ([]byte, error) {
	registers, err := h.Registers(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(hyperLogLogJSON{h.config.Precision, h.config.Hash, registers, h.key})
}

// Import replaces the sketch with exported JSON. With _withNewKey_ the
// registers go to a fresh key instead of the one recorded in _data_.
func (h *HyperLogLogRedis) Import(ctx context.Context, data []byte, withNewKey bool) error {
	var g hyperLogLogJSON
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	config := Config{Precision: g.Precision, Hash: g.Hash}
	abstractLog, err := MakeAbstractHyperLogLog(config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := checkRegisters(config, g.Registers); err != nil {
		return err
	}
	client, err := redisClient()
	if err != nil {
		return err
	}
	staged := &HyperLogLogRedis{*abstractLog, g.Key, h.metadataKey}
	if withNewKey || g.Key == "" {
		staged.key = hllcount.GenerateRandomString(16)
	}
	if staged.metadataKey == "" {
		staged.metadataKey = hllcount.GenerateRandomString(16)
	}
	if err := staged.importRegisters(ctx, client, g.Registers); err != nil {
		return err
	}
	if err := staged.writeMetadata(ctx, client); err != nil {
		return err
	}
	*h = *staged
	return nil
}

func (h *HyperLogLogRedis) importRegisters(ctx context.Context, client *redis.Client, registers []uint8) error {
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, h.key)
		for start := 0; start < len(registers); start += redisBatchSize {
			end := min(start+redisBatchSize, len(registers))
			args := make([]interface{}, 0, end-start)
			for _, r := range registers[start:end] {
				args = append(args, r)
			}
			pipe.RPush(ctx, h.key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hllcount: error importing registers for key: %s, error: %w", h.key, err)
	}
	return nil
}

// Delete removes the register list and the metadata from Redis.
func (h *HyperLogLogRedis) Delete(ctx context.Context) error {
	client, err := redisClient()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, h.key, h.metadataKey).Err(); err != nil {
		return fmt.Errorf("hllcount: error deleting hyperloglog keys, error: %w", err)
	}
	return nil
}
