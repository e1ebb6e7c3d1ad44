package scanner_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/srg/flipble/internal/device"
	"github.com/srg/flipble/internal/testutils"
	"github.com/srg/flipble/pkg/flipper"
	"github.com/srg/flipble/scanner"
	"github.com/stretchr/testify/suite"
)

// scriptedSource replays advertisements and then waits for ctx like a real radio
type scriptedSource struct {
	advs    []device.Advertisement
	err     error
	allowed []bool
}

func (s *scriptedSource) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	s.allowed = append(s.allowed, allowDup)
	if s.err != nil {
		return s.err
	}
	for _, adv := range s.advs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

type ScannerTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	flipper, headphones, tag device.Advertisement
	source                   *scriptedSource
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())

	suite.flipper = device.Advertisement{
		Address:     "80:E1:26:00:00:01",
		Name:        "Flipper Tinker",
		RSSI:        -60,
		Services:    []string{device.NormalizeUUID(flipper.ServiceUUID)},
		Connectable: true,
	}
	suite.headphones = device.Advertisement{
		Address:     "11:22:33:44:55:66",
		Name:        "Headphones",
		RSSI:        -45,
		Services:    []string{"180f"},
		Connectable: true,
	}
	suite.tag = device.Advertisement{Address: "99:88:77:66:55:44", RSSI: -80}

	suite.source = &scriptedSource{advs: []device.Advertisement{suite.flipper, suite.headphones, suite.tag}}
}

func (suite *ScannerTestSuite) scan(opts *scanner.ScanOptions) ([]device.Advertisement, error) {
	s, err := scanner.NewScanner(suite.source, suite.helper.Logger)
	suite.Require().NoError(err)
	return s.Scan(context.Background(), opts, nil)
}

func (suite *ScannerTestSuite) TestAcceptAllSortedBySignal() {
	devs, err := suite.scan(&scanner.ScanOptions{
		Duration:        20 * time.Millisecond,
		DuplicateFilter: true,
		Request:         device.RequestOptions{AcceptAll: true},
	})

	suite.Require().NoError(err)
	suite.Require().Len(devs, 3)
	suite.Equal("Headphones", devs[0].Name, "strongest signal MUST come first")
	suite.Equal("Flipper Tinker", devs[1].Name)
	suite.Equal([]bool{false}, suite.source.allowed, "duplicate filter MUST disable duplicates")
}

func (suite *ScannerTestSuite) TestServiceFilter() {
	devs, err := suite.scan(&scanner.ScanOptions{
		Duration: 20 * time.Millisecond,
		Request:  device.RequestOptions{Services: []string{flipper.ServiceUUID}},
	})

	suite.Require().NoError(err)
	suite.Require().Len(devs, 1)
	suite.Equal(suite.flipper.Address, devs[0].Address)
}

func (suite *ScannerTestSuite) TestAllowAndBlockLists() {
	devs, err := suite.scan(&scanner.ScanOptions{
		Duration:  20 * time.Millisecond,
		Request:   device.RequestOptions{AcceptAll: true},
		BlockList: []string{suite.headphones.Address},
	})
	suite.Require().NoError(err)
	suite.Len(devs, 2)

	devs, err = suite.scan(&scanner.ScanOptions{
		Duration:  20 * time.Millisecond,
		Request:   device.RequestOptions{AcceptAll: true},
		AllowList: []string{suite.tag.Address},
	})
	suite.Require().NoError(err)
	suite.Require().Len(devs, 1)
	suite.Equal(suite.tag.Address, devs[0].Address)
}

func (suite *ScannerTestSuite) TestStopWhen() {
	// GOAL: Verify the scan ends as soon as the wanted device shows up
	//
	// TEST SCENARIO: long duration, StopWhen matches the Flipper → returns well before the duration

	start := time.Now()
	devs, err := suite.scan(&scanner.ScanOptions{
		Duration: 10 * time.Second,
		Request:  device.RequestOptions{AcceptAll: true},
		StopWhen: func(adv device.Advertisement) bool { return adv.Address == suite.flipper.Address },
	})

	suite.Require().NoError(err)
	suite.Less(time.Since(start), 5*time.Second, "scan MUST stop early")
	suite.NotEmpty(devs)
	suite.Equal(suite.flipper.Address, devs[len(devs)-1].Address)
}

func (suite *ScannerTestSuite) TestMergesScanResponse() {
	suite.source.advs = []device.Advertisement{
		{Address: "80:E1:26:00:00:01", RSSI: -70, Services: []string{device.NormalizeUUID(flipper.ServiceUUID)}},
		{Address: "80:E1:26:00:00:01", Name: "Flipper Tinker", RSSI: -65},
	}

	devs, err := suite.scan(&scanner.ScanOptions{
		Duration: 20 * time.Millisecond,
		Request:  device.RequestOptions{Services: []string{flipper.ServiceUUID}},
	})

	suite.Require().NoError(err)
	suite.Require().Len(devs, 1)
	suite.Equal("Flipper Tinker", devs[0].Name, "name from the scan response MUST be kept")
	suite.Equal(-65, devs[0].RSSI, "latest RSSI MUST win")
	suite.True(devs[0].HasService(flipper.ServiceUUID), "services from the first packet MUST be kept")
}

func (suite *ScannerTestSuite) TestSourceError() {
	suite.source.err = errors.New("can't init hci: no such device")

	_, err := suite.scan(nil)

	suite.ErrorIs(err, device.ErrUnavailable, "adapter errors MUST be normalized")
}

func (suite *ScannerTestSuite) TestCallerCancel() {
	s, err := scanner.NewScanner(suite.source, suite.helper.Logger)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx, &scanner.ScanOptions{Duration: time.Second, Request: device.RequestOptions{AcceptAll: true}}, nil)

	suite.ErrorIs(err, context.Canceled)
}

func (suite *ScannerTestSuite) TestEventsAndProgress() {
	s, err := scanner.NewScanner(suite.source, suite.helper.Logger)
	suite.Require().NoError(err)

	var phases []string
	_, err = s.Scan(context.Background(), &scanner.ScanOptions{
		Duration: 20 * time.Millisecond,
		Request:  device.RequestOptions{AcceptAll: true},
	}, func(phase string) { phases = append(phases, phase) })
	suite.Require().NoError(err)

	suite.Equal([]string{"Scanning", "Processing results"}, phases)
	suite.Len(s.Events(), 3, "one event MUST be emitted per advertisement")
	ev := <-s.Events()
	suite.Equal(scanner.EventNew, ev.Type)
}

func (suite *ScannerTestSuite) TestOrderedJSON() {
	devs := []device.Advertisement{suite.headphones, suite.flipper}

	data, err := json.Marshal(scanner.Ordered(devs))
	suite.Require().NoError(err)

	testutils.NewJSONAsserter(suite.T()).Assert(string(data), `{
		"11:22:33:44:55:66": {"address": "11:22:33:44:55:66", "name": "Headphones", "rssi": -45, "services": ["180f"], "connectable": true},
		"80:E1:26:00:00:01": {"address": "80:E1:26:00:00:01", "name": "Flipper Tinker", "rssi": -60, "services": ["8fe5b3d52e7f4a982a487acc60fe0000"], "connectable": true}
	}`)
	suite.Less(indexOf(string(data), "Headphones"), indexOf(string(data), "Flipper Tinker"), "insertion order MUST be kept")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
