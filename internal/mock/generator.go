package mock

import (
	"fmt"
	"math/rand"
)

type MockConfig struct {
	RepeaterCount  int
	ClientsPerNode int
	RandomMetrics  bool
}

var DefaultConfig = MockConfig{
	RepeaterCount:  2,
	ClientsPerNode: 4,
	RandomMetrics:  true,
}

var repeaterModels = []string{
	"FRITZ!Repeater 3000", "FRITZ!Repeater 2400", "FRITZ!Repeater 1200 AX",
	"FRITZ!Powerline 1260E", "FRITZ!Box 7530 AX",
}

var clientNames = []string{
	"laptop", "phone", "tablet", "tv", "printer",
	"nas", "thermostat", "speaker", "console", "camera",
}

// MeshNode is one device in the synthetic mesh.
type MeshNode struct {
	UID        string     `json:"uid"`
	DeviceName string     `json:"device_name"`
	Model      string     `json:"device_model"`
	IsMeshed   bool       `json:"is_meshed"`
	MeshRole   string     `json:"mesh_role"`
	Links      []MeshLink `json:"node_links"`
}

// MeshLink is a connection between two mesh nodes.
type MeshLink struct {
	Type      string `json:"type"`
	Node1UID  string `json:"node_1_uid"`
	Node2UID  string `json:"node_2_uid"`
	CurDataRx int    `json:"cur_data_rate_rx"`
	CurDataTx int    `json:"cur_data_rate_tx"`
	MaxDataRx int    `json:"max_data_rate_rx"`
	MaxDataTx int    `json:"max_data_rate_tx"`
}

// GenerateMeshData builds a mesh topology: one master box, some repeaters
// and a number of clients attached to each node.
func GenerateMeshData(config MockConfig) []MeshNode {
	nodes := []MeshNode{{
		UID:        "n-1",
		DeviceName: "fritz.box",
		Model:      "FRITZ!Box 7590 AX",
		IsMeshed:   true,
		MeshRole:   "master",
	}}

	for i := 0; i < config.RepeaterCount; i++ {
		uid := fmt.Sprintf("n-%d", len(nodes)+1)
		nodes = append(nodes, MeshNode{
			UID:        uid,
			DeviceName: fmt.Sprintf("repeater-%d", i+1),
			Model:      repeaterModels[i%len(repeaterModels)],
			IsMeshed:   true,
			MeshRole:   "slave",
		})
		nodes[0].Links = append(nodes[0].Links, newLink("WLAN", "n-1", uid, 1733, config.RandomMetrics))
	}

	meshed := len(nodes)
	for n := 0; n < meshed; n++ {
		for c := 0; c < config.ClientsPerNode; c++ {
			uid := fmt.Sprintf("n-%d", len(nodes)+1)
			nodes = append(nodes, MeshNode{
				UID:        uid,
				DeviceName: fmt.Sprintf("%s-%d", clientNames[(n+c)%len(clientNames)], c+1),
				MeshRole:   "unknown",
			})
			linkType := "WLAN"
			if c == 0 {
				linkType = "LAN"
			}
			nodes[n].Links = append(nodes[n].Links, newLink(linkType, nodes[n].UID, uid, 866, config.RandomMetrics))
		}
	}

	return nodes
}

func newLink(linkType, from, to string, maxRate int, random bool) MeshLink {
	link := MeshLink{
		Type:      linkType,
		Node1UID:  from,
		Node2UID:  to,
		MaxDataRx: maxRate * 1000,
		MaxDataTx: maxRate * 1000,
	}
	if linkType == "LAN" {
		link.MaxDataRx = 1000000
		link.MaxDataTx = 1000000
	}
	link.CurDataRx = link.MaxDataRx / 2
	link.CurDataTx = link.MaxDataTx / 2
	if random {
		jitterRates(&link)
	}
	return link
}

// UpdateMetrics moves the current link rates around so consecutive polls
// return different documents.
func UpdateMetrics(nodes []MeshNode, config MockConfig) {
	if !config.RandomMetrics {
		return
	}
	for i := range nodes {
		for j := range nodes[i].Links {
			jitterRates(&nodes[i].Links[j])
		}
	}
}

func jitterRates(link *MeshLink) {
	link.CurDataRx = link.MaxDataRx/4 + rand.Intn(link.MaxDataRx/2+1)
	link.CurDataTx = link.MaxDataTx/4 + rand.Intn(link.MaxDataTx/2+1)
}
